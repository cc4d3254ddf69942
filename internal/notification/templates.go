package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// TemplateSendRequest renders a stored template and feeds the result
// through the normal pipeline. Channels and priority fall back to the
// template's metadata presets when the request leaves them empty.
type TemplateSendRequest struct {
	UserID       uuid.UUID         `json:"userId"`
	Template     string            `json:"template"`
	Variables    map[string]string `json:"variables,omitempty"`
	Channels     []Channel         `json:"channels,omitempty"`
	Priority     Priority          `json:"priority,omitempty"`
	Locale       string            `json:"locale,omitempty"`
	Data         Data              `json:"data,omitempty"`
	ScheduledFor *time.Time        `json:"scheduledFor,omitempty"`
}

// SendTemplate renders the named template with the given variables and
// sends the result. Every variable the template declares must be
// supplied; unknown extras are ignored.
func (o *Orchestrator) SendTemplate(ctx context.Context, req *TemplateSendRequest) (*SendResult, error) {
	if req.Template == "" {
		return nil, apperrors.Validation("template slug is required")
	}
	if req.UserID == uuid.Nil {
		return nil, apperrors.Validation("userId is required")
	}

	tpl, err := o.lookupTemplate(ctx, req.Template)
	if err != nil {
		return nil, err
	}

	if missing := missingVariables(tpl.Variables, req.Variables); len(missing) > 0 {
		return nil, apperrors.Validationf("missing template variables: %s", strings.Join(missing, ", "))
	}

	typ := tpl.PresetType()
	if typ == "" {
		typ = Type(tpl.Slug)
	}
	channels := req.Channels
	if len(channels) == 0 {
		channels = tpl.PresetChannels()
	}
	priority := req.Priority
	if priority == "" {
		priority = tpl.PresetPriority()
	}

	data := Data{}
	for k, v := range req.Data {
		data[k] = v
	}
	if tpl.HTMLContent != "" {
		data["html"] = SubstituteVariables(tpl.HTMLContent, req.Variables)
	}

	n := &Notification{
		UserID:       req.UserID,
		Type:         typ,
		Title:        SubstituteVariables(tpl.Subject, req.Variables),
		Body:         SubstituteVariables(tpl.TextContent, req.Variables),
		Data:         data,
		Priority:     priority,
		Channels:     channels,
		Locale:       req.Locale,
		ScheduledFor: req.ScheduledFor,
	}

	return o.Send(ctx, n)
}

// lookupTemplate serves active templates through a short-lived cache so a
// campaign burst does not re-read the row per recipient.
func (o *Orchestrator) lookupTemplate(ctx context.Context, slug string) (*Template, error) {
	if cached, ok := o.templates.Get(slug); ok {
		return cached.(*Template), nil
	}

	tpl, err := o.repo.GetTemplate(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NotFound("template")
		}
		return nil, apperrors.Internal("failed to load template", err)
	}

	o.templates.SetDefault(slug, tpl)
	return tpl, nil
}

// SubstituteVariables replaces {{name}} placeholders. Both the tight and
// single-spaced forms are recognized; placeholders with no supplied value
// pass through untouched.
func SubstituteVariables(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	oldnew := make([]string, 0, len(vars)*4)
	for k, v := range vars {
		oldnew = append(oldnew, "{{"+k+"}}", v, "{{ "+k+" }}", v)
	}
	return strings.NewReplacer(oldnew...).Replace(s)
}

func missingVariables(declared StringList, supplied map[string]string) []string {
	var missing []string
	for _, name := range declared {
		if _, ok := supplied[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
