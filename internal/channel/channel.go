// ABOUTME: Channel classification for message subtypes
// ABOUTME: Maps sms/mms/email subtypes onto the closed text/email channel variants

package channel

import (
	"errors"
	"fmt"
)

// ErrInvalidSubtype is returned when a subtype is not one of sms, mms or email.
var ErrInvalidSubtype = errors.New("invalid message subtype")

// Type is the communication medium of a conversation.
type Type string

const (
	TypeText  Type = "text"
	TypeEmail Type = "email"
)

// Subtype is the concrete message kind carried on a channel.
type Subtype string

const (
	SubtypeSMS   Subtype = "sms"
	SubtypeMMS   Subtype = "mms"
	SubtypeEmail Subtype = "email"
)

// Classify maps a message subtype to its channel. An empty subtype classifies
// as email, matching inbound callbacks that carry no text subtype. Anything
// else fails with ErrInvalidSubtype.
func Classify(sub Subtype) (Type, error) {
	switch sub {
	case SubtypeSMS, SubtypeMMS:
		return TypeText, nil
	case SubtypeEmail, "":
		return TypeEmail, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSubtype, string(sub))
	}
}

// IsText reports whether the subtype rides the text channel.
func (s Subtype) IsText() bool {
	return s == SubtypeSMS || s == SubtypeMMS
}

func (t Type) String() string { return string(t) }

func (s Subtype) String() string { return string(s) }
