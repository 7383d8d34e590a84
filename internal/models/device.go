package models

import (
	"fmt"

	"github.com/avct/uasurfer"
)

// DeviceInfo describes the host device as reported to the ad server.
type DeviceInfo struct {
	AdID      string // advertising identifier, empty when unavailable or limited
	BundleID  string
	UserAgent string
	Country   string // locale country code
}

var osNames = map[uasurfer.OSName]string{
	uasurfer.OSiOS:      "iOS",
	uasurfer.OSAndroid:  "Android",
	uasurfer.OSWindows:  "Windows",
	uasurfer.OSMacOSX:   "macOS",
	uasurfer.OSLinux:    "Linux",
	uasurfer.OSChromeOS: "ChromeOS",
}

// DeviceString derives the os field of a Metric from a user agent, e.g.
// "iOS 17.1" or "Android 14". Unknown agents yield "unknown".
func DeviceString(userAgent string) string {
	if userAgent == "" {
		return "unknown"
	}
	ua := uasurfer.Parse(userAgent)
	name, ok := osNames[ua.OS.Name]
	if !ok {
		return "unknown"
	}
	v := ua.OS.Version
	switch {
	case v.Major == 0:
		return name
	case v.Minor == 0 && v.Patch == 0:
		return fmt.Sprintf("%s %d", name, v.Major)
	case v.Patch == 0:
		return fmt.Sprintf("%s %d.%d", name, v.Major, v.Minor)
	}
	return fmt.Sprintf("%s %d.%d.%d", name, v.Major, v.Minor, v.Patch)
}
