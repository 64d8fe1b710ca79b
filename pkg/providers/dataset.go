package providers

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownAction = errors.New("unknown action")
)

// Action toggles a flag on a device or a pool.
type Action string

const (
	ActionMute      Action = "mute"
	ActionUnmute    Action = "unmute"
	ActionArchive   Action = "archive"
	ActionUnarchive Action = "unarchive"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionMute, ActionUnmute, ActionArchive, ActionUnarchive:
		return a, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownAction, s)
}

type deviceRecord struct {
	device      Device
	results     []SmartResult
	tempHistory []TempPoint
}

// Dataset is the in-memory state shared by every provider. Mutations made
// through one endpoint are visible to later reads on any other. Readers get
// copies, never shared maps or slices.
type Dataset struct {
	mu       sync.RWMutex
	devices  map[string]*deviceRecord
	pools    map[string]Pool
	settings Settings
	now      func() time.Time
}

func (d *Dataset) Summary() SummaryData {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := SummaryData{Summary: make(map[string]DeviceSummary, len(d.devices))}
	for wwn, rec := range d.devices {
		s := DeviceSummary{Device: rec.device, TempHistory: slices.Clone(rec.tempHistory)}
		if n := len(rec.results); n > 0 {
			last := rec.results[n-1]
			s.Smart = &SmartSummary{
				CollectorDate: last.Date,
				Temp:          last.Temp,
				PowerOnHours:  last.PowerOnHours,
			}
		}
		out.Summary[wwn] = s
	}
	return out
}

func (d *Dataset) DeviceDetails(wwn string) (DeviceDetails, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.devices[wwn]
	if !ok {
		return DeviceDetails{}, fmt.Errorf("device %s: %w", wwn, ErrNotFound)
	}
	results := make([]SmartResult, len(rec.results))
	for i, r := range rec.results {
		r.Attributes = maps.Clone(r.Attributes)
		results[i] = r
	}
	return DeviceDetails{Device: rec.device, SmartResults: results}, nil
}

func (d *Dataset) ApplyDeviceAction(wwn string, action Action) (Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.devices[wwn]
	if !ok {
		return Device{}, fmt.Errorf("device %s: %w", wwn, ErrNotFound)
	}
	applyFlags(action, &rec.device.Muted, &rec.device.Archived)
	rec.device.UpdatedAt = d.now()
	return rec.device, nil
}

func (d *Dataset) DeleteDevice(wwn string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.devices[wwn]; !ok {
		return fmt.Errorf("device %s: %w", wwn, ErrNotFound)
	}
	delete(d.devices, wwn)
	return nil
}

func (d *Dataset) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

func (d *Dataset) SaveSettings(s Settings) Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings = s
	return d.settings
}

func (d *Dataset) ZFSSummary() ZFSSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := ZFSSummary{Pools: make(map[string]Pool, len(d.pools))}
	for guid, p := range d.pools {
		out.Pools[guid] = clonePool(p)
	}
	return out
}

func (d *Dataset) Pool(guid string) (Pool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.pools[guid]
	if !ok {
		return Pool{}, fmt.Errorf("pool %s: %w", guid, ErrNotFound)
	}
	return clonePool(p), nil
}

func (d *Dataset) ApplyPoolAction(guid string, action Action) (Pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[guid]
	if !ok {
		return Pool{}, fmt.Errorf("pool %s: %w", guid, ErrNotFound)
	}
	applyFlags(action, &p.Muted, &p.Archived)
	d.pools[guid] = p
	return clonePool(p), nil
}

func (d *Dataset) DeletePool(guid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pools[guid]; !ok {
		return fmt.Errorf("pool %s: %w", guid, ErrNotFound)
	}
	delete(d.pools, guid)
	return nil
}

func applyFlags(action Action, muted, archived *bool) {
	switch action {
	case ActionMute:
		*muted = true
	case ActionUnmute:
		*muted = false
	case ActionArchive:
		*archived = true
	case ActionUnarchive:
		*archived = false
	}
}

func clonePool(p Pool) Pool {
	p.Vdevs = slices.Clone(p.Vdevs)
	for i := range p.Vdevs {
		p.Vdevs[i].Children = slices.Clone(p.Vdevs[i].Children)
	}
	if p.LastScrub != nil {
		t := *p.LastScrub
		p.LastScrub = &t
	}
	return p
}
