package chat

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Context is the finalized message history sent back to the backend as
// conversation memory. Only finalized messages are ever appended.
type Context []Message

func (c Context) Append(msgs ...Message) Context {
	return append(c, msgs...)
}

func (c Context) Clone() Context {
	return Context(CloneMessages(c))
}

// WithoutPending returns a copy of the context without a trailing user entry
// carrying pending. It is used when a turn is re-sent, so the in-flight
// message does not travel both as the message and inside the context.
func (c Context) WithoutPending(pending string) Context {
	out := c.Clone()
	if n := len(out); n > 0 && out[n-1].IsUser() && out[n-1].Content == pending {
		out = out[:n-1]
	}
	return out
}

// Encode serializes the context as a JSON array. A nil context encodes as [].
func (c Context) Encode() (string, error) {
	if c == nil {
		c = Context{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "encode conversation context")
	}
	return string(b), nil
}

// LoadContextFile reads a seed context from a YAML or JSON file. The file
// holds either a bare list of messages or a mapping with a `messages` key.
func LoadContextFile(path string) (Context, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read context file %s", path)
	}
	return ParseContext(b)
}

func ParseContext(b []byte) (Context, error) {
	var list []Message
	if err := yaml.Unmarshal(b, &list); err == nil {
		return validateContext(list)
	}
	var doc struct {
		Messages []Message `yaml:"messages"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(err, "parse context")
	}
	return validateContext(doc.Messages)
}

func validateContext(msgs []Message) (Context, error) {
	for i, m := range msgs {
		switch m.Role {
		case RoleUser, RoleAssistant:
		default:
			return nil, errors.Errorf("context entry %d: unknown role %q", i, m.Role)
		}
	}
	return Context(msgs), nil
}
