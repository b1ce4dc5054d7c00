package chatwoot

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TourDesk/internal/models"
)

// ProfileAttributeKey returns the contact attribute key holding the profile
// for one inbox. Profiles are inbox-scoped so a family talking to two
// branches keeps separate records.
func ProfileAttributeKey(inboxID int) string {
	return fmt.Sprintf("%d_profile", inboxID)
}

// ExtractProfile parses the inbox-scoped profile out of contact attributes.
// The value is a JSON-encoded string. Missing or corrupt values return nil
// rather than an error; the caller falls back to an empty profile.
func ExtractProfile(attrs map[string]interface{}, inboxID int) *models.PersistentProfile {
	if attrs == nil {
		return nil
	}
	raw, ok := attrs[ProfileAttributeKey(inboxID)]
	if !ok {
		return nil
	}
	str, ok := raw.(string)
	if !ok || str == "" {
		return nil
	}
	var profile models.PersistentProfile
	if err := json.Unmarshal([]byte(str), &profile); err != nil {
		slog.Warn("Ignoring corrupt profile attribute", "error", err, "inboxID", inboxID)
		return nil
	}
	return &profile
}

// ProfileSyncAttributes renders the attribute payload that mirrors the
// profile back onto the contact. Unset fields are stripped by the profile's
// omitempty tags, so stale attributes never reappear as empty strings.
func ProfileSyncAttributes(profile *models.PersistentProfile, inboxID int) (map[string]interface{}, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile for sync: %w", err)
	}
	return map[string]interface{}{ProfileAttributeKey(inboxID): string(data)}, nil
}
