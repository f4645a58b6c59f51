// Package messagebird defines the MessageBird resources the tap extracts.
package messagebird

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/Sternrassler/tap-messagebird/pkg/pagination"
	"github.com/Sternrassler/tap-messagebird/pkg/stream"
)

// API base URLs.
const (
	ConversationsBaseURL = "https://conversations.messagebird.com/v1"
	RESTBaseURL          = "https://rest.messagebird.com"
)

// Stream names.
const (
	StreamConversations        = "conversations"
	StreamConversationMessages = "conversation_messages"
	StreamMessages             = "messages"
)

// ConversationsPageSize is the page size the Conversations API is queried with.
const ConversationsPageSize = 20

// Options adjusts the catalog.
type Options struct {
	// Base URL overrides, mostly for tests and proxies.
	ConversationsBaseURL string
	RESTBaseURL          string

	// PageSizes overrides the page size per stream.
	PageSizes map[string]int

	// DisableEarlyStop turns off the bookmark early-stop for every stream.
	DisableEarlyStop bool
}

// Catalog returns all descriptors, parents before children.
func Catalog(opts Options) []stream.Descriptor {
	convBase := ConversationsBaseURL
	if opts.ConversationsBaseURL != "" {
		convBase = opts.ConversationsBaseURL
	}
	restBase := RESTBaseURL
	if opts.RESTBaseURL != "" {
		restBase = opts.RESTBaseURL
	}

	descs := []stream.Descriptor{
		{
			Name:           StreamConversations,
			BaseURL:        convBase,
			Path:           "/conversations",
			PrimaryKeys:    []string{"id"},
			ReplicationKey: "updatedDatetime",
			RecordsPath:    "items",
			Params:         url.Values{"status": {"all"}},
			Pagination: pagination.Spec{
				Strategy:          pagination.StrategyOffset,
				PageSize:          ConversationsPageSize,
				AssumeNewestFirst: true,
			},
		},
		{
			Name:           StreamConversationMessages,
			BaseURL:        convBase,
			Path:           "/conversations/" + stream.ParentIDPlaceholder + "/messages",
			PrimaryKeys:    []string{"id"},
			ReplicationKey: "createdDatetime",
			Parent:         StreamConversations,
			RecordsPath:    "items",
			Pagination: pagination.Spec{
				Strategy:          pagination.StrategyOffset,
				PageSize:          ConversationsPageSize,
				AssumeNewestFirst: true,
			},
		},
		{
			Name:           StreamMessages,
			BaseURL:        restBase,
			Path:           "/messages",
			PrimaryKeys:    []string{"id"},
			ReplicationKey: "createdDatetime",
			RecordsPath:    "items",
			StartParam:     "from",
			Pagination: pagination.Spec{
				Strategy:     pagination.StrategyLink,
				NextLinkPath: pagination.DefaultNextLinkPath,
			},
		},
	}

	for i, d := range descs {
		descs[i] = d.WithPageSize(opts.PageSizes[d.Name]).WithEarlyStop(!opts.DisableEarlyStop)
	}
	return descs
}

// Names lists the stream names in catalog order.
func Names() []string {
	descs := Catalog(Options{})
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

// Select filters the catalog to the named streams, keeping catalog order.
// An empty selection means every stream. Selecting a child without its
// parent is an error.
func Select(descs []stream.Descriptor, names []string) ([]stream.Descriptor, error) {
	if len(names) == 0 {
		return descs, nil
	}

	known := make(map[string]stream.Descriptor, len(descs))
	for _, d := range descs {
		known[d.Name] = d
	}
	for _, name := range names {
		d, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown stream %q", name)
		}
		if d.IsChild() && !slices.Contains(names, d.Parent) {
			return nil, fmt.Errorf("stream %q requires its parent stream %q", name, d.Parent)
		}
	}

	var out []stream.Descriptor
	for _, d := range descs {
		if slices.Contains(names, d.Name) {
			out = append(out, d)
		}
	}
	return out, nil
}
