package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets names the snapshot sections written by the durable backends, one
// row per bucket, in write order.
var Buckets = []string{
	"agents",
	"counters",
	"units",
	"spatial_things",
	"process_specifications",
	"resource_specifications",
}

func (s *Snapshot) bucketTargets() map[string]any {
	return map[string]any{
		"agents":                  &s.Agents,
		"counters":                &s.Counters,
		"units":                   &s.Units,
		"spatial_things":          &s.SpatialThings,
		"process_specifications":  &s.ProcessSpecifications,
		"resource_specifications": &s.ResourceSpecifications,
	}
}

// EncodeBuckets marshals every snapshot section into its own JSON payload.
func EncodeBuckets(s Snapshot) (map[string][]byte, error) {
	targets := s.bucketTargets()
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		data, err := json.Marshal(targets[bucket])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals payload into the section named by bucket. Unknown
// buckets and empty payloads are ignored.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	target, ok := s.bucketTargets()[bucket]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
