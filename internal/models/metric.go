package models

// MetricType tags a telemetry event.
type MetricType string

const (
	MetricLoadRequest    MetricType = "AD_LOAD_REQUEST"
	MetricLoadSuccess    MetricType = "AD_LOAD_SUCCESS"
	MetricLoadFailed     MetricType = "AD_LOAD_FAIL"
	MetricNoFill         MetricType = "NO_FILL"
	MetricShow           MetricType = "AD_SHOW"
	MetricShowFailed     MetricType = "AD_SHOW_FAIL"
	MetricClose          MetricType = "AD_CLOSE"
	MetricClicked        MetricType = "AD_CLICKED"
	MetricAssetsLoaded   MetricType = "ASSETS_LOADED"
	MetricVideoLoaded    MetricType = "VIDEO_LOADED"
	MetricImagesLoaded   MetricType = "IMAGES_LOADED"
	MetricTimerCompleted MetricType = "TIMER_COMPLETED"
)

// instantSend lists the lifecycle metrics that trigger an immediate flush of
// the session buffer.
var instantSend = map[MetricType]struct{}{
	MetricLoadRequest:    {},
	MetricLoadSuccess:    {},
	MetricLoadFailed:     {},
	MetricNoFill:         {},
	MetricShow:           {},
	MetricShowFailed:     {},
	MetricClose:          {},
	MetricTimerCompleted: {},
}

// SendsImmediately reports whether recording a metric of this type flushes the buffer.
func (t MetricType) SendsImmediately() bool {
	_, ok := instantSend[t]
	return ok
}

// Metric is one telemetry event as sent to the metrics endpoint.
type Metric struct {
	MetricType     MetricType       `json:"metric_type"`
	AdID           string           `json:"ad_id,omitempty"`  // device advertising identifier
	AppID          string           `json:"app_id"`           // publisher application id
	Timestamp      int64            `json:"timestamp"`        // milliseconds since epoch
	IsInterstitial bool             `json:"is_interstitial"`  // false for rewarded
	BundleID       string           `json:"bundle_id"`        // host application bundle
	CampaignID     string           `json:"campaign_id"`      // empty until the fetch returns
	SessionID      string           `json:"session_id"`       // one per load/show cycle
	GeoTag         string           `json:"location"`         // coarse geo tag sent with the fetch
	CountryCode    string           `json:"country_code"`     // device locale country
	PlacementID    string           `json:"placement_id"`     // optional
	OS             string           `json:"os"`               // device/os string
	SDKVersion     string           `json:"sdk_version"`      // engine version
	AdapterVersion string           `json:"adapter_version"`  // mediation adapter version
	CPM            float64          `json:"cpm"`              // cpm floor of the session
	AdapterType    string           `json:"adapter_type,omitempty"`
	Consent        bool             `json:"consent"`
	ConsentType    string           `json:"consent_type,omitempty"`
	LocationData   LocationSnapshot `json:"location_data"`
}

// MetricBatch is an ordered sequence of metrics sent in one request.
type MetricBatch []Metric
