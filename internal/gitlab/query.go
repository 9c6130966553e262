package gitlab

import (
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/jacklau/reposcout/internal/filter"
)

// capabilities lists the filters /projects evaluates exactly. The topic
// parameter requires every listed topic, so several topic atoms combine.
var capabilities = filter.Capabilities{
	filter.FieldTopic:      {filter.OpEq},
	filter.FieldArchived:   {filter.OpEq},
	filter.FieldVisibility: {filter.OpEq},
}

func applyNative(opts *gl.ListProjectsOptions, native []filter.Atom) {
	var topics []string
	for _, a := range native {
		switch a.Field {
		case filter.FieldTopic:
			topics = append(topics, a.Value.Str)
		case filter.FieldArchived:
			opts.Archived = gl.Ptr(a.Value.Bool)
		case filter.FieldVisibility:
			opts.Visibility = gl.Ptr(gl.VisibilityValue(a.Value.Str))
		}
	}
	if len(topics) > 0 {
		opts.Topic = gl.Ptr(strings.Join(topics, ","))
	}
}
