package dockerruntime

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
)

// generateToken returns a fresh high-entropy hex token for sidecar auth.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", apierr.Wrap(apierr.KindDocker, "failed to generate sidecar token", err)
	}
	return hex.EncodeToString(buf), nil
}

// mergeEnv merges base and user JSON objects (user overrides base), then
// converts scalar entries to KEY=VALUE strings. Non-scalar values (nested
// objects/arrays) are dropped rather than serialized.
func mergeEnv(baseJSON, userJSON string) ([]string, map[string]string, error) {
	merged := map[string]any{}
	if baseJSON != "" {
		var base map[string]any
		if err := json.Unmarshal([]byte(baseJSON), &base); err != nil {
			return nil, nil, apierr.Wrap(apierr.KindValidation, "invalid base_env_json", err)
		}
		for k, v := range base {
			merged[k] = v
		}
	}
	if userJSON != "" {
		var user map[string]any
		if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
			return nil, nil, apierr.Wrap(apierr.KindValidation, "invalid user_env_json", err)
		}
		for k, v := range user {
			merged[k] = v
		}
	}

	scalars := map[string]string{}
	for k, v := range merged {
		switch val := v.(type) {
		case string:
			scalars[k] = val
		case float64, bool:
			scalars[k] = fmt.Sprint(val)
		default:
			// non-scalar (object/array/null) values are filtered out
		}
	}

	env := make([]string, 0, len(scalars))
	for k, v := range scalars {
		env = append(env, k+"="+v)
	}
	return env, scalars, nil
}

// buildLabels translates metadata_json into container labels, merging in
// image and stack, and extracting snapshot_destination for the caller
// rather than leaving it as a label.
func buildLabels(metadataJSON, image, stack string) (map[string]string, string, error) {
	meta := map[string]any{}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &meta); err != nil {
			return nil, "", apierr.Wrap(apierr.KindValidation, "invalid metadata_json", err)
		}
	}
	meta["image"] = image
	meta["stack"] = stack

	snapshotDestination := ""
	if v, ok := meta["snapshot_destination"]; ok {
		if s, ok := v.(string); ok {
			snapshotDestination = s
		}
		delete(meta, "snapshot_destination")
	}

	labels := map[string]string{}
	for k, v := range meta {
		if s, ok := v.(string); ok {
			labels["sandbox."+k] = s
		}
	}
	return labels, snapshotDestination, nil
}
