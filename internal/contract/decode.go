package contract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"gopkg.in/yaml.v3"
)

// DecodeError is returned when a backend reply cannot be turned into a
// valid result. It carries the raw text for diagnostics so the caller can
// log or surface exactly what the backend said.
type DecodeError struct {
	// Role is the role whose reply failed to decode.
	Role Role

	// Reason is a human-readable description of the violation.
	Reason string

	// Raw is the offending reply text.
	Raw string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s reply: %s", e.Role, e.Reason)
}

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// rawReviewerResult mirrors the YAML schema reviewer backends emit.
type rawReviewerResult struct {
	Action         string             `yaml:"action"`
	Summary        string             `yaml:"summary"`
	Comments       []rawReviewComment `yaml:"comments"`
	BlockingIssues []string           `yaml:"blocking_issues"`
}

// rawReviewComment mirrors a single comment entry in the reply block.
type rawReviewComment struct {
	Path     string `yaml:"path"`
	Line     int64  `yaml:"line"`
	Body     string `yaml:"body"`
	Severity string `yaml:"severity"`
}

// rawRevieweeResult mirrors the YAML schema reviewee backends emit.
type rawRevieweeResult struct {
	Status            string                `yaml:"status"`
	Summary           string                `yaml:"summary"`
	FilesModified     []string              `yaml:"files_modified"`
	Question          string                `yaml:"question"`
	PermissionRequest *rawPermissionRequest `yaml:"permission_request"`
	ErrorDetails      string                `yaml:"error_details"`
}

// rawPermissionRequest mirrors the permission_request sub-object.
type rawPermissionRequest struct {
	Action string `yaml:"action"`
	Reason string `yaml:"reason"`
}

// ExtractResultBlock pulls the structured result block out of a reply. The
// block is expected to be the last ```yaml (or ```yml) fenced section of
// the response text. Returns an empty string if no block is present.
func ExtractResultBlock(text string) string {
	// Find the last occurrence of the opening marker.
	lastIdx := strings.LastIndex(text, "```yaml")
	if lastIdx == -1 {
		lastIdx = strings.LastIndex(text, "```yml")
	}
	if lastIdx == -1 {
		return ""
	}

	// Skip past the marker line to the block content.
	contentStart := strings.Index(text[lastIdx:], "\n")
	if contentStart == -1 {
		return ""
	}
	contentStart += lastIdx + 1

	// Find the closing fence.
	remaining := text[contentStart:]
	closingIdx := strings.Index(remaining, "```")
	if closingIdx == -1 {
		return ""
	}

	return strings.TrimSpace(remaining[:closingIdx])
}

// DecodeReviewer parses and validates a reviewer reply. The full reply text
// is accepted; only its trailing fenced result block is decoded.
func DecodeReviewer(raw string) (ReviewerResult, error) {
	block := ExtractResultBlock(raw)
	if block == "" {
		return ReviewerResult{}, &DecodeError{
			Role:   RoleReviewer,
			Reason: "no structured result block found in reply",
			Raw:    raw,
		}
	}

	var parsed rawReviewerResult
	if err := yaml.Unmarshal([]byte(block), &parsed); err != nil {
		return ReviewerResult{}, &DecodeError{
			Role:   RoleReviewer,
			Reason: fmt.Sprintf("malformed result block: %v", err),
			Raw:    raw,
		}
	}

	action := ReviewerAction(parsed.Action)
	if !validReviewerActions[action] {
		return ReviewerResult{}, &DecodeError{
			Role: RoleReviewer,
			Reason: fmt.Sprintf(
				"invalid action %q (expected approve, "+
					"request_changes, or comment)",
				parsed.Action,
			),
			Raw: raw,
		}
	}

	comments := make([]ReviewComment, 0, len(parsed.Comments))
	for i, c := range parsed.Comments {
		comment, err := validateComment(i, c)
		if err != nil {
			return ReviewerResult{}, &DecodeError{
				Role:   RoleReviewer,
				Reason: err.Error(),
				Raw:    raw,
			}
		}

		comments = append(comments, comment)
	}

	// Drop empty blocking issue strings rather than letting them count
	// as blockers downstream.
	issues := make([]string, 0, len(parsed.BlockingIssues))
	for _, issue := range parsed.BlockingIssues {
		if trimmed := strings.TrimSpace(issue); trimmed != "" {
			issues = append(issues, trimmed)
		}
	}

	return ReviewerResult{
		Action:         action,
		Summary:        parsed.Summary,
		Comments:       comments,
		BlockingIssues: issues,
	}, nil
}

// validateComment checks a single raw comment entry against the contract:
// non-empty path and body, a known severity, and a 1-based line number.
func validateComment(idx int, c rawReviewComment) (ReviewComment, error) {
	if c.Path == "" {
		return ReviewComment{}, fmt.Errorf(
			"comment %d: missing path", idx,
		)
	}
	if c.Body == "" {
		return ReviewComment{}, fmt.Errorf(
			"comment %d: missing body", idx,
		)
	}

	severity := Severity(c.Severity)
	if !validSeverities[severity] {
		return ReviewComment{}, fmt.Errorf(
			"comment %d: invalid severity %q (expected info, "+
				"warning, or blocking)",
			idx, c.Severity,
		)
	}

	if c.Line < 1 {
		return ReviewComment{}, fmt.Errorf(
			"comment %d: line %d is not a 1-based line number",
			idx, c.Line,
		)
	}

	return ReviewComment{
		Path:     c.Path,
		Line:     uint32(c.Line),
		Body:     c.Body,
		Severity: severity,
	}, nil
}

// DecodeReviewee parses and validates a reviewee reply, enforcing the
// companion-field invariants: needs_clarification requires a question,
// needs_permission requires a permission request, failed requires error
// details.
func DecodeReviewee(raw string) (RevieweeResult, error) {
	block := ExtractResultBlock(raw)
	if block == "" {
		return RevieweeResult{}, &DecodeError{
			Role:   RoleReviewee,
			Reason: "no structured result block found in reply",
			Raw:    raw,
		}
	}

	var parsed rawRevieweeResult
	if err := yaml.Unmarshal([]byte(block), &parsed); err != nil {
		return RevieweeResult{}, &DecodeError{
			Role:   RoleReviewee,
			Reason: fmt.Sprintf("malformed result block: %v", err),
			Raw:    raw,
		}
	}

	status := RevieweeStatus(parsed.Status)
	if !validRevieweeStatuses[status] {
		return RevieweeResult{}, &DecodeError{
			Role: RoleReviewee,
			Reason: fmt.Sprintf(
				"invalid status %q (expected completed, "+
					"needs_clarification, "+
					"needs_permission, or failed)",
				parsed.Status,
			),
			Raw: raw,
		}
	}

	result := RevieweeResult{
		Status:        status,
		Summary:       parsed.Summary,
		FilesModified: parsed.FilesModified,
		Question:      fn.None[string](),
		Permission:    fn.None[PermissionRequest](),
		ErrorDetails:  fn.None[string](),
	}

	switch status {
	case StatusNeedsClarification:
		question := strings.TrimSpace(parsed.Question)
		if question == "" {
			return RevieweeResult{}, &DecodeError{
				Role: RoleReviewee,
				Reason: "status needs_clarification " +
					"requires a question",
				Raw: raw,
			}
		}
		result.Question = fn.Some(question)

	case StatusNeedsPermission:
		if parsed.PermissionRequest == nil ||
			parsed.PermissionRequest.Action == "" {

			return RevieweeResult{}, &DecodeError{
				Role: RoleReviewee,
				Reason: "status needs_permission requires " +
					"a permission_request with an action",
				Raw: raw,
			}
		}
		result.Permission = fn.Some(PermissionRequest{
			Action: parsed.PermissionRequest.Action,
			Reason: parsed.PermissionRequest.Reason,
		})

	case StatusFailed:
		details := strings.TrimSpace(parsed.ErrorDetails)
		if details == "" {
			return RevieweeResult{}, &DecodeError{
				Role: RoleReviewee,
				Reason: "status failed requires " +
					"error_details",
				Raw: raw,
			}
		}
		result.ErrorDetails = fn.Some(details)
	}

	return result, nil
}
