// Package triage is the business boundary of arbiter. It defines the Pipeline
// (score, classify, gate, decide for one incident), the Service that
// coordinates single and batch runs, the Store interface and the result model.
package triage
