package vk

import (
	"encoding/json"
	"errors"
)

// ErrNoUploadResult is returned when the transfer response carries no upload token.
var ErrNoUploadResult = errors.New("upload response has no upload_result")

// uploadResultExtractor looks for the upload token in one known response shape.
type uploadResultExtractor func(body map[string]json.RawMessage) (string, bool)

// uploadResultExtractors are tried in order. New API shapes go here.
var uploadResultExtractors = []uploadResultExtractor{
	topLevelUploadResult,
	nestedUploadResult("response"),
}

// topLevelUploadResult handles {"upload_result": "..."}.
func topLevelUploadResult(body map[string]json.RawMessage) (string, bool) {
	return stringField(body, "upload_result")
}

// nestedUploadResult handles {"<key>": {"upload_result": "..."}}.
func nestedUploadResult(key string) uploadResultExtractor {
	return func(body map[string]json.RawMessage) (string, bool) {
		raw, ok := body[key]
		if !ok {
			return "", false
		}

		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return "", false
		}

		return stringField(inner, "upload_result")
	}
}

func stringField(body map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := body[key]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}

	return s, true
}

// extractUploadResult returns the first token found by uploadResultExtractors.
func extractUploadResult(body map[string]json.RawMessage) (string, error) {
	for _, extract := range uploadResultExtractors {
		if token, ok := extract(body); ok {
			return token, nil
		}
	}

	return "", ErrNoUploadResult
}

// decodeItems accepts either a bare list or an object with an "items" list.
func decodeItems[T any](raw json.RawMessage) ([]T, error) {
	var list []T
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Items []T `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}

	return wrapped.Items, nil
}
