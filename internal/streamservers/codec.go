package streamservers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"streamguard/internal/core/domain"
	"streamguard/internal/streamservers/restreamer"

	"gopkg.in/yaml.v2"
)

// The variant is encoded as one object: a "type" field naming the kind
// followed by the backend's own fields.
//
//	{"type": "Restreamer", "baseUrl": "http://core:8080", "channel": "..."}

const tagField = "type"

func (s StreamServer) payload() (interface{}, error) {
	switch s.kind {
	case KindRestreamer:
		if s.restreamer != nil {
			return s.restreamer, nil
		}
		return nil, fmt.Errorf("restreamer: missing configuration")
	case "":
		return nil, fmt.Errorf("%w: missing type", domain.ErrUnknownKind)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownKind, s.kind)
	}
}

func (s StreamServer) MarshalJSON() ([]byte, error) {
	payload, err := s.payload()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%s: payload is not an object", s.kind)
	}
	tag, err := json.Marshal(string(s.kind))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"` + tagField + `":`)
	buf.Write(tag)
	if len(body) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

func (s *StreamServer) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("decode stream server: %w", err)
	}
	return s.decode(tag.Type, func(v interface{}) error {
		return json.Unmarshal(data, v)
	})
}

func (s StreamServer) MarshalYAML() (interface{}, error) {
	payload, err := s.payload()
	if err != nil {
		return nil, err
	}

	raw, err := yaml.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields yaml.MapSlice
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	out := make(yaml.MapSlice, 0, len(fields)+1)
	out = append(out, yaml.MapItem{Key: tagField, Value: string(s.kind)})
	return append(out, fields...), nil
}

func (s *StreamServer) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var tag struct {
		Type Kind `yaml:"type"`
	}
	if err := unmarshal(&tag); err != nil {
		return fmt.Errorf("decode stream server: %w", err)
	}
	return s.decode(tag.Type, unmarshal)
}

func (s *StreamServer) decode(kind Kind, into func(interface{}) error) error {
	switch kind {
	case KindRestreamer:
		r := &restreamer.Restreamer{}
		if err := into(r); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		*s = NewRestreamer(r)
		return nil
	case "":
		return fmt.Errorf("%w: missing %q field", domain.ErrUnknownKind, tagField)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
}
