// Package triage runs batches of emails through a two-stage pipeline.
// A Service (job registry) owns one Context per batch and runs a Controller
// for it in the background. The Controller asks an Oracle to classify the
// batch, then to act on the automatable emails. The Oracle touches the
// Context only through a stage-scoped Toolbox, and every mutation lands in
// the Context's append-only operation log.
package triage
