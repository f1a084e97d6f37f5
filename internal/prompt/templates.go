package prompt

// reviewerOutputFormat is the output contract section shared by both
// reviewer templates. The YAML schema here must stay in sync with the
// contract package decoders.
const reviewerOutputFormat = `## Output Format
You MUST end your response with a YAML block delimited by ` +
	"```yaml and ```" + ` markers. Use this exact schema:

` + "```yaml" + `
action: approve | request_changes | comment
summary: "Brief summary of your findings"
comments:
  - path: "path/to/file.go"
    line: 42
    body: "Clear explanation of the problem"
    severity: info | warning | blocking
blocking_issues:
  - "One line per issue that must be fixed before approval"
` + "```" + `

**Action guidelines:**
- ` + "`approve`" + ` — no blocking issues remain. When in doubt, approve.
- ` + "`request_changes`" + ` — one or more blocking issues you are certain about.
- ` + "`comment`" + ` — observations only, no verdict either way.

If you approve, blocking_issues must be empty. Every blocking comment must
have a matching entry in blocking_issues.
`

// initialReviewTmplText is the first reviewer prompt of a session.
const initialReviewTmplText = `## Review Request: {{.SessionID}}

You are reviewing a code change (round {{.Iteration}} of at most {{.MaxIterations}}).

## Your Role
Identify bugs, security issues, and logic errors that are definitively
present in the diff. Flag only issues you are certain about: a review with
zero false positives and one missed issue is better than one that catches
everything but includes speculation. Do not flag style preferences,
pre-existing problems outside the diff, or anything a linter would catch.
{{if .DiffCmd}}
## Reading the Change
Run the following command to see what changed:

` + "```" + `
{{.DiffCmd}}
` + "```" + `
{{else}}
## Diff
` + "```diff" + `
{{.Diff}}
` + "```" + `
{{end}}
{{- if .ChangedFiles}}
## Changed Files
{{- range .ChangedFiles}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Guidelines}}

## Project Guidelines
{{.Guidelines}}
{{- end}}

` + reviewerOutputFormat

// reReviewTmplText asks the reviewer to verify fixes from the previous
// round. The reviewer must confine itself to the previously flagged
// issues plus anything newly introduced by the fixes.
const reReviewTmplText = `## Re-Review Request: {{.SessionID}}

The author has applied fixes for your previous review
(round {{.Iteration}} of at most {{.MaxIterations}}).

## Previously Flagged Issues
{{- range .PreviousBlocking}}
- {{.}}
{{- end}}
{{if .DiffCmd}}
## Reading the Change
Run the following command to see the current state of the change:

` + "```" + `
{{.DiffCmd}}
` + "```" + `
{{else}}
## Current Diff
` + "```diff" + `
{{.Diff}}
` + "```" + `
{{end}}
## Instructions
1. Check each previously flagged issue against the current code.
2. Review any code the fixes newly introduced or modified.
3. Do NOT raise fresh feedback on untouched code you already passed over.
4. Approve once every previously flagged issue is resolved and the fixes
   introduced no new problems.

` + reviewerOutputFormat

// revieweeOutputFormat is the output contract section shared by the
// reviewee-facing templates.
const revieweeOutputFormat = `## Output Format
You MUST end your response with a YAML block delimited by ` +
	"```yaml and ```" + ` markers. Use this exact schema:

` + "```yaml" + `
status: completed | needs_clarification | needs_permission | failed
summary: "What you did, or why you stopped"
files_modified:
  - "path/to/file.go"
question: "Only when status is needs_clarification"
permission_request:
  action: "the command or operation you need approval for"
  reason: "why it is needed"
error_details: "Only when status is failed"
` + "```" + `

**Status guidelines:**
- ` + "`completed`" + ` — every issue addressed, changes saved to the working tree.
- ` + "`needs_clarification`" + ` — a review comment is ambiguous and you cannot
  proceed without an answer. Ask ONE specific question.
- ` + "`needs_permission`" + ` — the fix requires an operation outside your
  sandbox (network, destructive command). Name the exact action.
- ` + "`failed`" + ` — you could not address the issues. Explain what went wrong.
`

// fixRequestTmplText asks the reviewee to address the current round's
// review feedback.
const fixRequestTmplText = `## Fix Request: {{.SessionID}}

A reviewer examined your change (round {{.Iteration}}) and requested
changes.

## Reviewer Summary
{{.ReviewSummary}}
{{if .BlockingIssues}}
## Blocking Issues
These must all be fixed before the reviewer will approve:
{{- range .BlockingIssues}}
- {{.}}
{{- end}}
{{end}}
{{- if .Comments}}
## Review Comments
{{- range .Comments}}
- **{{.Path}}:{{.Line}}** [{{.Severity}}] {{.Body}}
{{- end}}
{{- end}}

## Instructions
1. Address every blocking issue. Non-blocking comments are at your
   discretion, but say so in your summary when you skip one.
2. Keep the change minimal. Do not refactor beyond what the issues need.
3. Leave the fixes in the working tree. Do not commit or push.

` + revieweeOutputFormat

// permissionGrantedTmplText resumes a reviewee whose permission request
// was granted.
const permissionGrantedTmplText = `## Resuming: {{.SessionID}}

Your permission request has been GRANTED. You may proceed with:
{{.PermissionAction}}

Continue where you left off and finish addressing the review feedback.

` + revieweeOutputFormat

// permissionDeniedTmplText resumes a reviewee whose permission request
// was denied.
const permissionDeniedTmplText = `## Resuming: {{.SessionID}}

Your permission request has been DENIED. Do NOT perform:
{{.PermissionAction}}

Find another way to address the review feedback, or report status
` + "`failed`" + ` with an explanation if no alternative exists.

` + revieweeOutputFormat

// clarificationAnsweredTmplText resumes a reviewee with the answer to its
// question.
const clarificationAnsweredTmplText = `## Resuming: {{.SessionID}}
{{if .Question}}
Your question:
> {{.Question}}
{{end}}
Answer:

{{.Answer}}

Continue where you left off and finish addressing the review feedback.

` + revieweeOutputFormat

// clarificationSkippedTmplText resumes a reviewee whose question went
// unanswered.
const clarificationSkippedTmplText = `## Resuming: {{.SessionID}}
{{if .Question}}
Your question:
> {{.Question}}
{{end}}
No answer is available. Use your best judgment, note the assumption you
made in your summary, and finish addressing the review feedback.

` + revieweeOutputFormat

// formatReminderTmplText re-prompts an agent whose previous reply carried
// no decodable result block. Sent at most once per invocation.
const formatReminderTmplText = `Your previous reply could not be processed:
{{.Reason}}

Re-send ONLY the YAML result block, delimited by ` + "```yaml and ```" + `
markers, using the exact schema from your instructions. Do not repeat your
analysis.
{{if eq .Role "reviewer"}}
` + "```yaml" + `
action: approve | request_changes | comment
summary: "..."
comments: []
blocking_issues: []
` + "```" + `
{{- else}}
` + "```yaml" + `
status: completed | needs_clarification | needs_permission | failed
summary: "..."
files_modified: []
` + "```" + `
{{- end}}
`
