// Package metrics implements dynamo.Metric observers for closed-loop runs:
// accumulated stage cost, value-function monotonicity, control effort,
// stability against a bound and constraint violation.
package metrics
