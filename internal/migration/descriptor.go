package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/19Mahmoud19/joplin/internal/driver"
)

// DescriptorPath is the sync target descriptor, relative to the target base dir.
const DescriptorPath = "info.json"

// ErrInvalidDescriptor is returned for an info.json that is unreadable or has
// no version.
var ErrInvalidDescriptor = errors.New("invalid sync target descriptor")

// Descriptor is the persisted schema version of a sync target. Fields other
// than version are kept as found and written back unchanged.
type Descriptor struct {
	Version int
	extra   map[string]json.RawMessage
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.extra)+1)
	for k, v := range d.extra {
		out[k] = v
	}
	out["version"] = d.Version
	return json.Marshal(out)
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	raw, ok := fields["version"]
	if !ok {
		return fmt.Errorf(`%w: missing "version" field`, ErrInvalidDescriptor)
	}
	if err := json.Unmarshal(raw, &d.Version); err != nil {
		return fmt.Errorf(`%w: "version": %v`, ErrInvalidDescriptor, err)
	}
	if d.Version < 1 {
		return fmt.Errorf(`%w: "version" must be positive, got %d`, ErrInvalidDescriptor, d.Version)
	}
	delete(fields, "version")
	d.extra = fields
	return nil
}

// withVersion returns a copy of d at version v.
func (d Descriptor) withVersion(v int) Descriptor {
	d.Version = v
	return d
}

// FetchDescriptor reads info.json. A target without one is at version 1.
func FetchDescriptor(ctx context.Context, api *driver.FileAPI) (Descriptor, error) {
	content, err := api.Get(ctx, DescriptorPath, driver.GetOptions{Format: driver.FormatText})
	if err != nil {
		return Descriptor{}, fmt.Errorf("fetch %s: %w", DescriptorPath, err)
	}
	if content == nil {
		return Descriptor{Version: 1}, nil
	}

	var d Descriptor
	if err := json.Unmarshal(content.Data, &d); err != nil {
		if errors.Is(err, ErrInvalidDescriptor) {
			return Descriptor{}, err
		}
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return d, nil
}

// SaveDescriptor writes info.json.
func SaveDescriptor(ctx context.Context, api *driver.FileAPI, d Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode %s: %w", DescriptorPath, err)
	}
	if err := api.Put(ctx, DescriptorPath, data, driver.PutOptions{}); err != nil {
		return fmt.Errorf("save %s: %w", DescriptorPath, err)
	}
	return nil
}
