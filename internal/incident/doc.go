// Package incident holds the passive data model shared by every stage of the
// triage pipeline: incidents and their evidence, hypotheses, compliance
// findings, policy verdicts, decisions and enrichment call records.
package incident
