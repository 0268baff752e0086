package types

import (
	"time"
)

// SessionPolicy selects how a session decides it is over.
type SessionPolicy string

const (
	PolicyManual   SessionPolicy = "MANUAL"
	PolicyTime     SessionPolicy = "TIME"
	PolicyActivity SessionPolicy = "ACTIVITY"
)

// SessionTypeConfig pairs a termination policy with its TIME budget.
type SessionTypeConfig struct {
	Type    SessionPolicy `json:"type"`
	Minutes int           `json:"minutes,omitempty"`
}

// NotificationSettings controls what a notification may carry to the client.
type NotificationSettings struct {
	Details bool `json:"details"`
	Links   bool `json:"links"`
}

// SessionSettings is immutable for the lifetime of a session.
type SessionSettings struct {
	SessionType SessionTypeConfig    `json:"sessionType"`
	Strictness  float64              `json:"strictness"`
	Notify      NotificationSettings `json:"notify"`
}

// TimelineEntry is one inferred action, timestamped mm:ss from session start.
type TimelineEntry struct {
	T     string `json:"t"`
	Event string `json:"event"`
}

// ActivityRecord is the most recently confirmed stable foreground activity.
type ActivityRecord struct {
	ID    string `json:"id"`
	App   string `json:"app"`
	Media string `json:"media"`
	Desc  string `json:"desc"`
}

// ContentRecord is remembered metadata about content seen earlier in the session.
type ContentRecord struct {
	App          string `json:"app"`
	Media        string `json:"media"`
	Desc         string `json:"desc"`
	HasVideo     bool   `json:"hasVideo"`
	HasAudio     bool   `json:"hasAudio"`
	Publisher    string `json:"publisher,omitempty"`
	Topic        string `json:"topic,omitempty"`
	ContextNotes string `json:"contextNotes,omitempty"`
}

// CheckedClaim is one entry of the bounded recent-claims history.
type CheckedClaim struct {
	Claim   string      `json:"claim"`
	Status  ClaimLabel  `json:"status"`
	Sources []SourceRef `json:"sources"`
}

// MaxCheckedClaims bounds SessionMemory.LastClaimsChecked.
const MaxCheckedClaims = 20

// SessionMemory is the durable cross-frame state for one session. It is owned
// by the session lifecycle; the orchestrator receives a copy, mutates the
// manager's returned snapshot, and hands it back for wholesale replacement.
type SessionMemory struct {
	Settings          SessionSettings          `json:"settings"`
	Timeline          []TimelineEntry          `json:"timeline"`
	CurrentActivity   *ActivityRecord          `json:"currentActivity"`
	PastContents      map[string]ContentRecord `json:"pastContents"`
	LastClaimsChecked []CheckedClaim           `json:"lastClaimsChecked"`
}

// NewSessionMemory returns an empty memory with the given settings.
func NewSessionMemory(settings SessionSettings) *SessionMemory {
	return &SessionMemory{
		Settings:          settings,
		Timeline:          []TimelineEntry{},
		PastContents:      map[string]ContentRecord{},
		LastClaimsChecked: []CheckedClaim{},
	}
}

// RecordClaims appends checked claims, trimming the oldest entries beyond
// MaxCheckedClaims.
func (m *SessionMemory) RecordClaims(claims []CheckedClaim) {
	m.LastClaimsChecked = append(m.LastClaimsChecked, claims...)
	if n := len(m.LastClaimsChecked); n > MaxCheckedClaims {
		m.LastClaimsChecked = m.LastClaimsChecked[n-MaxCheckedClaims:]
	}
}

// TreeSummary is the client's digest of the on-screen UI tree.
type TreeSummary struct {
	AppName    string   `json:"appName"`
	AppPackage string   `json:"appPackage,omitempty"`
	MediaHints []string `json:"mediaHints,omitempty"`
	TextNodes  []string `json:"textNodes,omitempty"`
	Publisher  string   `json:"publisher,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Confidence float64  `json:"confidence"`
}

// DeviceHints carries client device conditions that temper notification policy.
type DeviceHints struct {
	BatteryPct int  `json:"batteryPct,omitempty"`
	PowerSaver bool `json:"powerSaver,omitempty"`
}

// FrameBundle is one tick's snapshot of on-screen and audio content. It is
// transient: never persisted beyond processing of the frame itself.
type FrameBundle struct {
	SessionID            SessionID   `json:"sessionId"`
	Timestamp            time.Time   `json:"timestamp"`
	TreeSummary          TreeSummary `json:"treeSummary"`
	OCRText              string      `json:"ocrText,omitempty"`
	ImageRef             string      `json:"imageRef,omitempty"`
	AudioTranscriptDelta string      `json:"audioTranscriptDelta,omitempty"`
	DeviceHints          DeviceHints `json:"deviceHints"`
}

// ClaimLabel classifies a verified claim.
type ClaimLabel string

const (
	LabelSupported  ClaimLabel = "supported"
	LabelContested  ClaimLabel = "contested"
	LabelMisleading ClaimLabel = "misleading"
	LabelFalse      ClaimLabel = "false"
	LabelUncertain  ClaimLabel = "uncertain"
)

// SourceTier is the trust classification of a source's origin domain.
type SourceTier string

const (
	TierA SourceTier = "A"
	TierB SourceTier = "B"
	TierC SourceTier = "C"
)

// SourceRef cites one consulted source.
type SourceRef struct {
	Title            string     `json:"title,omitempty"`
	URL              string     `json:"url"`
	Tier             SourceTier `json:"tier"`
	DirectQuoteMatch bool       `json:"directQuoteMatch,omitempty"`
}

// Claim is one verified factual assertion.
type Claim struct {
	Text       string      `json:"text"`
	Label      ClaimLabel  `json:"label"`
	Confidence float64     `json:"confidence"`
	Severity   float64     `json:"severity"`
	Sources    []SourceRef `json:"sources"`
}

// FactCheckResult is a checker's verdict for one frame. Ephemeral: folded
// into SessionMemory.LastClaimsChecked and otherwise discarded.
type FactCheckResult struct {
	Claims  []Claim     `json:"claims"`
	Notes   string      `json:"notes,omitempty"`
	Summary string      `json:"summary,omitempty"`
	Sources []SourceRef `json:"sources,omitempty"`
}

// NotificationColor is the traffic-light verdict shown to the user.
type NotificationColor string

const (
	ColorGreen  NotificationColor = "green"
	ColorYellow NotificationColor = "yellow"
	ColorRed    NotificationColor = "red"
)

// Notification is the client-facing outcome of one frame. Never persisted.
type Notification struct {
	Color        NotificationColor `json:"color"`
	ShortText    string            `json:"shortText"`
	Details      string            `json:"details,omitempty"`
	Sources      []SourceRef       `json:"sources,omitempty"`
	Confidence   float64           `json:"confidence"`
	Severity     float64           `json:"severity"`
	ShouldNotify bool              `json:"shouldNotify"`
}

// MediaRoute is the manager's media-kind classification for a frame.
type MediaRoute string

const (
	RouteText       MediaRoute = "text"
	RouteTextImage  MediaRoute = "text+image"
	RouteShortVideo MediaRoute = "short-video"
	RouteLongVideo  MediaRoute = "long-video"
	RouteNone       MediaRoute = "none"
)

// ManagerReply is the structured output of the manager step.
type ManagerReply struct {
	UpdatedMemory *SessionMemory `json:"updatedMemory"`
	Route         MediaRoute     `json:"route"`
	AgentContext  *AgentContext  `json:"agentContext,omitempty"`
	EndSession    bool           `json:"endSession"`
	Notifications []Notification `json:"notifications"`
}

// FrameResult is what the orchestrator hands back per processed frame.
type FrameResult struct {
	UpdatedMemory *SessionMemory
	Route         MediaRoute
	Notifications []Notification
	EndSession    bool
}
