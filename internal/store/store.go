package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event is a single change notification for a subscribed path. Value is nil
// when the record was removed.
type Event struct {
	Path  string
	Value []byte
}

// UnsubscribeFunc releases a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Store is the keyed-path record store the application persists into.
// Paths are slash-separated ("users/<uid>", "calls/<id>"); values are JSON
// documents. Reads and writes are not transactional across paths.
type Store interface {
	// Read returns the value at path, or nil when no record exists.
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, value []byte) error
	// Update merges the given fields into the existing JSON document at path,
	// creating it when absent.
	Update(ctx context.Context, path string, partial map[string]interface{}) error
	Remove(ctx context.Context, path string) error
	// List returns all records whose path starts with prefix + "/".
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Subscribe delivers an Event for every change under prefix until the
	// returned unsubscribe handle is invoked.
	Subscribe(ctx context.Context, prefix string, handler func(Event)) (UnsubscribeFunc, error)
}

// Collection roots, mirroring the deployed database layout.
const (
	UsersCollection       = "users"
	CallsCollection       = "calls"
	SettingsCollection    = "settings"
	CredentialsCollection = "auth/credentials"
	EmailIndexCollection  = "auth/emails"
)

func UserPath(uid string) string       { return UsersCollection + "/" + uid }
func CallPath(id string) string        { return CallsCollection + "/" + id }
func CredentialPath(uid string) string { return CredentialsCollection + "/" + uid }
func EmailIndexPath(key string) string { return EmailIndexCollection + "/" + key }

const SettingsPath = SettingsCollection + "/app"

// ReadJSON reads path and unmarshals it into out. Returns (false, nil) when
// the record does not exist.
func ReadJSON(ctx context.Context, s Store, path string, out interface{}) (bool, error) {
	raw, err := s.Read(ctx, path)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode record %s: %w", path, err)
	}
	return true, nil
}

// WriteJSON marshals value and writes it at path.
func WriteJSON(ctx context.Context, s Store, path string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", path, err)
	}
	return s.Write(ctx, path, raw)
}

// MergeJSON applies partial on top of the existing JSON document and returns
// the merged encoding. Shared by adapters that implement Update as
// read-merge-write.
func MergeJSON(existing []byte, partial map[string]interface{}) ([]byte, error) {
	merged := map[string]interface{}{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return nil, fmt.Errorf("decode existing document: %w", err)
		}
	}
	for k, v := range partial {
		merged[k] = v
	}
	return json.Marshal(merged)
}
