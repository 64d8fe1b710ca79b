package providers

import "time"

// Envelope is the wrapper every dashboard endpoint answers with.
type Envelope[T any] struct {
	Success bool     `json:"success"`
	Data    T        `json:"data,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func succeed[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: data}
}

func failure(msg string) Envelope[any] {
	return Envelope[any]{Success: false, Errors: []string{msg}}
}

// Device statuses are bit flags.
const (
	DeviceStatusPassed         = 0
	DeviceStatusFailedSmart    = 1
	DeviceStatusFailedScrutiny = 2
)

type Device struct {
	WWN            string    `json:"wwn"`
	DeviceName     string    `json:"device_name"`
	Manufacturer   string    `json:"manufacturer"`
	ModelName      string    `json:"model_name"`
	SerialNumber   string    `json:"serial_number"`
	Firmware       string    `json:"firmware"`
	Capacity       int64     `json:"capacity"`
	DeviceProtocol string    `json:"device_protocol"`
	DeviceType     string    `json:"device_type"`
	HostID         string    `json:"host_id"`
	Label          string    `json:"label"`
	DeviceStatus   int       `json:"device_status"`
	Archived       bool      `json:"archived"`
	Muted          bool      `json:"muted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type SmartSummary struct {
	CollectorDate time.Time `json:"collector_date"`
	Temp          int64     `json:"temp"`
	PowerOnHours  int64     `json:"power_on_hours"`
}

type TempPoint struct {
	Date time.Time `json:"date"`
	Temp int64     `json:"temp"`
}

type DeviceSummary struct {
	Device      Device        `json:"device"`
	Smart       *SmartSummary `json:"smart,omitempty"`
	TempHistory []TempPoint   `json:"temp_history,omitempty"`
}

type SummaryData struct {
	Summary map[string]DeviceSummary `json:"summary"`
}

type SmartAttribute struct {
	AttributeID int    `json:"attribute_id"`
	Name        string `json:"name"`
	Value       int64  `json:"value"`
	Worst       int64  `json:"worst"`
	Threshold   int64  `json:"thresh"`
	RawValue    int64  `json:"raw_value"`
	Status      int    `json:"status"`
}

type SmartResult struct {
	Date            time.Time                 `json:"date"`
	DeviceWWN       string                    `json:"device_wwn"`
	Temp            int64                     `json:"temp"`
	PowerOnHours    int64                     `json:"power_on_hours"`
	PowerCycleCount int64                     `json:"power_cycle_count"`
	Status          int                       `json:"Status"`
	Attributes      map[string]SmartAttribute `json:"attrs"`
}

type DeviceDetails struct {
	Device       Device        `json:"device"`
	SmartResults []SmartResult `json:"smart_results"`
}

type MetricsSettings struct {
	NotifyLevel            int  `json:"notify_level"`
	StatusFilterAttributes int  `json:"status_filter_attributes"`
	StatusThreshold        int  `json:"status_threshold"`
	RepeatNotifications    bool `json:"repeat_notifications"`
}

type Settings struct {
	Theme              string          `json:"theme"`
	Layout             string          `json:"layout"`
	DashboardDisplay   string          `json:"dashboard_display"`
	DashboardSort      string          `json:"dashboard_sort"`
	TemperatureUnit    string          `json:"temperature_unit"`
	FileSizeSIUnits    bool            `json:"file_size_si_units"`
	PoweredOnHoursUnit string          `json:"powered_on_hours_unit"`
	LineStroke         string          `json:"line_stroke"`
	Metrics            MetricsSettings `json:"metrics"`
}

type Vdev struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Status   string   `json:"status"`
	Children []string `json:"children,omitempty"`
}

type Pool struct {
	GUID          string     `json:"guid"`
	Name          string     `json:"name"`
	HostID        string     `json:"host_id"`
	Status        string     `json:"status"`
	Size          int64      `json:"size"`
	Allocated     int64      `json:"allocated"`
	Free          int64      `json:"free"`
	Fragmentation int        `json:"fragmentation"`
	CapacityPct   int        `json:"capacity_percent"`
	ScrubState    string     `json:"scrub_state"`
	LastScrub     *time.Time `json:"last_scrub,omitempty"`
	Vdevs         []Vdev     `json:"vdevs"`
	Archived      bool       `json:"archived"`
	Muted         bool       `json:"muted"`
}

type ZFSSummary struct {
	Pools map[string]Pool `json:"pools"`
}
