package catalog

import "github.com/srg/bikeble/internal/codec"

func bikeInfo(suffix, name string, c codec.Codec, group string, unconfirmed bool) CharacteristicDescriptor {
	return CharacteristicDescriptor{
		ServiceUUID: BikeInfoServiceUUID,
		UUID:        BikeInfoServiceUUID[:len(BikeInfoServiceUUID)-2] + suffix,
		Name:        name,
		Codec:       c,
		Group:       group,
		Unconfirmed: unconfirmed,
	}
}

func stats(suffix, name string, c codec.Codec, group string, unconfirmed bool) CharacteristicDescriptor {
	return CharacteristicDescriptor{
		ServiceUUID: StatsServiceUUID,
		UUID:        StatsServiceUUID[:len(StatsServiceUUID)-2] + suffix,
		Name:        name,
		Codec:       c,
		Group:       group,
		Unconfirmed: unconfirmed,
	}
}

func writable(d CharacteristicDescriptor) CharacteristicDescriptor {
	d.Writable = true
	return d
}

// BikeServices returns the controller's two services with their characteristics.
// Versions live in the Bike Info service, Battery/Lights/Motor in Stats.
func BikeServices() []ServiceDescriptor {
	return []ServiceDescriptor{
		{
			UUID: BikeInfoServiceUUID,
			Name: "Bike Info",
			Characteristics: []CharacteristicDescriptor{
				bikeInfo("0d", "Manufacture Date", codec.Text, GroupBikeInfo, false),
				bikeInfo("01", "Bike Frame Number", codec.Text, GroupBikeInfo, false),
				bikeInfo("02", "Motor S/N", codec.UnsignedInt32, GroupBikeInfo, false),
				bikeInfo("03", "Controller S/N", codec.Text, GroupBikeInfo, true),
				bikeInfo("06", "Torque Sensor S/N", codec.Text, GroupBikeInfo, true),
				bikeInfo("12", "Battery S/N", codec.Text, GroupBikeInfo, false),
				bikeInfo("13", "Bike S/N", codec.Text, GroupBikeInfo, false),

				bikeInfo("04", "Controller FW Version", codec.VersionQuad, GroupVersions, true),
				bikeInfo("05", "Controller BL Version", codec.VersionQuad, GroupVersions, true),
				bikeInfo("08", "Motor FW Version", codec.VersionQuad, GroupVersions, true),
				bikeInfo("09", "Lights Fitted", codec.Boolean, GroupVersions, false),
				bikeInfo("0a", "BLE Module FW Version", codec.VersionQuad, GroupVersions, true),
				bikeInfo("0b", "BLE Module BL Version", codec.VersionQuad, GroupVersions, true),
				bikeInfo("0c", "Calibration ID", codec.VersionQuad, GroupVersions, true),
				bikeInfo("15", "Bike Version ID", codec.VersionQuad, GroupVersions, false),
			},
		},
		{
			UUID: StatsServiceUUID,
			Name: "Stats",
			Characteristics: []CharacteristicDescriptor{
				stats("15", "Battery Charge", codec.BatteryPercent, GroupBattery, false),
				stats("16", "Battery Charge Cycles", codec.UnsignedInt32, GroupBattery, false),

				writable(stats("0f", "Lights Status", codec.LightsOnOff, GroupLights, false)),
				writable(stats("11", "Lights Mode", codec.LightsOnOffAuto, GroupLights, false)),

				writable(stats("12", "Electric Assist Mode", codec.AssistMode, GroupMotor, false)),
				stats("1a", "Akku Voltage", codec.Voltage, GroupMotor, false),
				stats("02", "Total On Time", codec.Hours, GroupMotor, true),
				stats("06", "Max Motor FET Temperature", codec.Temperature, GroupMotor, true),
				stats("07", "Peak Motor Board Temperature", codec.Temperature, GroupMotor, true),
			},
		},
	}
}
