package recipient

import (
	"context"
	"strings"

	"github.com/mywio/im-notify/pkg/event"
)

// Reserved role tokens.
const (
	TokenAssignee = "assignee"
	TokenWatchers = "watchers"
)

// Kind is the variant of a recipient specification.
type Kind int

const (
	KindUnknown Kind = iota
	KindAssignee
	KindWatchers
	KindIdentity
	KindAddress
)

func (k Kind) String() string {
	switch k {
	case KindAssignee:
		return "assignee"
	case KindWatchers:
		return "watchers"
	case KindIdentity:
		return "identity"
	case KindAddress:
		return "address"
	default:
		return "unknown"
	}
}

// Spec is a classified recipient specification.
type Spec struct {
	Raw      string
	Kind     Kind
	Identity *event.Identity // set for KindIdentity
}

// Classify decides once what a raw specification denotes. Role tokens win
// over identity names, identity names win over literal addresses.
func Classify(ctx context.Context, raw string, dir Directory) Spec {
	raw = strings.TrimSpace(raw)
	switch raw {
	case TokenAssignee:
		return Spec{Raw: raw, Kind: KindAssignee}
	case TokenWatchers:
		return Spec{Raw: raw, Kind: KindWatchers}
	}
	if dir != nil && raw != "" {
		if id, ok := dir.FindIdentity(ctx, raw); ok {
			return Spec{Raw: raw, Kind: KindIdentity, Identity: id}
		}
	}
	if strings.Contains(raw, "@") {
		return Spec{Raw: raw, Kind: KindAddress}
	}
	return Spec{Raw: raw, Kind: KindUnknown}
}
