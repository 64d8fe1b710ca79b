package providers

import (
	"time"
)

const (
	tb = int64(1) << 40

	WWNSeagate = "0x5000c500673e6b5f"
	WWNWD      = "0x50014ee20b2a72a9"
	WWNNVMe    = "0x002538b1915049e0"

	PoolTank    = "9474185374382651223"
	PoolBackups = "1162364287394620512"
)

var seedEpoch = time.Date(2024, time.January, 15, 8, 0, 0, 0, time.UTC)

// NewDataset returns a deterministic dataset: three drives (one failing
// S.M.A.R.T.) and two ZFS pools (one degraded).
func NewDataset() *Dataset {
	d := &Dataset{
		devices: map[string]*deviceRecord{},
		pools:   map[string]Pool{},
		now:     time.Now,
		settings: Settings{
			Theme:              "system",
			Layout:             "material",
			DashboardDisplay:   "name",
			DashboardSort:      "status",
			TemperatureUnit:    "celsius",
			FileSizeSIUnits:    false,
			PoweredOnHoursUnit: "humanize",
			LineStroke:         "smooth",
			Metrics: MetricsSettings{
				NotifyLevel:            2,
				StatusFilterAttributes: 0,
				StatusThreshold:        3,
				RepeatNotifications:    true,
			},
		},
	}

	d.addDevice(Device{
		WWN: WWNSeagate, DeviceName: "sda", Manufacturer: "Seagate",
		ModelName: "ST4000DM000-1F2168", SerialNumber: "Z3009N5J", Firmware: "CC54",
		Capacity: 4 * tb, DeviceProtocol: "ATA", DeviceType: "ata", HostID: "nas-01",
		DeviceStatus: DeviceStatusPassed,
	}, 34, 31_204, 212, nil)

	d.addDevice(Device{
		WWN: WWNWD, DeviceName: "sdb", Manufacturer: "Western Digital",
		ModelName: "WDC WD40EFRX-68N32N0", SerialNumber: "WD-WCC7K4RU947F", Firmware: "82.00A82",
		Capacity: 4 * tb, DeviceProtocol: "ATA", DeviceType: "ata", HostID: "nas-01", Label: "parity",
		DeviceStatus: DeviceStatusFailedSmart | DeviceStatusFailedScrutiny,
	}, 41, 52_870, 1_043, map[string]SmartAttribute{
		"5": {AttributeID: 5, Name: "Reallocated Sectors Count", Value: 1, Worst: 1, Threshold: 140, RawValue: 2_024, Status: DeviceStatusFailedSmart},
	})

	d.addDevice(Device{
		WWN: WWNNVMe, DeviceName: "nvme0", Manufacturer: "Samsung",
		ModelName: "Samsung SSD 970 EVO Plus 1TB", SerialNumber: "S4EWNX0R123456", Firmware: "2B2QEXM7",
		Capacity: tb, DeviceProtocol: "NVMe", DeviceType: "nvme", HostID: "nas-01",
		DeviceStatus: DeviceStatusPassed,
	}, 38, 9_512, 87, nil)

	lastScrub := seedEpoch.Add(-72 * time.Hour)
	d.pools[PoolTank] = Pool{
		GUID: PoolTank, Name: "tank", HostID: "nas-01", Status: "ONLINE",
		Size: 8 * tb, Allocated: 5 * tb, Free: 3 * tb, Fragmentation: 12, CapacityPct: 62,
		ScrubState: "finished", LastScrub: &lastScrub,
		Vdevs: []Vdev{{Name: "mirror-0", Type: "mirror", Status: "ONLINE", Children: []string{"sda", "sdb"}}},
	}
	d.pools[PoolBackups] = Pool{
		GUID: PoolBackups, Name: "backups", HostID: "nas-01", Status: "DEGRADED",
		Size: 4 * tb, Allocated: 3 * tb, Free: tb, Fragmentation: 31, CapacityPct: 75,
		ScrubState: "none",
		Vdevs: []Vdev{{Name: "raidz1-0", Type: "raidz1", Status: "DEGRADED", Children: []string{"sdc", "sdd", "sde"}}},
	}
	return d
}

// addDevice seeds a drive with a week of daily S.M.A.R.T. results ending at seedEpoch.
func (d *Dataset) addDevice(dev Device, temp, hours, cycles int64, extra map[string]SmartAttribute) {
	dev.CreatedAt = seedEpoch.Add(-365 * 24 * time.Hour)
	dev.UpdatedAt = seedEpoch

	rec := &deviceRecord{device: dev}
	for day := 6; day >= 0; day-- {
		date := seedEpoch.Add(-time.Duration(day) * 24 * time.Hour)
		dayTemp := temp - int64(day%3)
		attrs := map[string]SmartAttribute{
			"9":   {AttributeID: 9, Name: "Power-On Hours", Value: 60, Worst: 60, RawValue: hours - int64(day*24)},
			"12":  {AttributeID: 12, Name: "Power Cycle Count", Value: 100, Worst: 100, Threshold: 20, RawValue: cycles},
			"194": {AttributeID: 194, Name: "Temperature Celsius", Value: 100 - dayTemp, Worst: 40, RawValue: dayTemp},
		}
		for id, a := range extra {
			attrs[id] = a
		}
		rec.results = append(rec.results, SmartResult{
			Date:            date,
			DeviceWWN:       dev.WWN,
			Temp:            dayTemp,
			PowerOnHours:    hours - int64(day*24),
			PowerCycleCount: cycles,
			Status:          dev.DeviceStatus,
			Attributes:      attrs,
		})
		rec.tempHistory = append(rec.tempHistory, TempPoint{Date: date, Temp: dayTemp})
	}
	d.devices[dev.WWN] = rec
}
