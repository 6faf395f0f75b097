// Package uiproto implements the patch-based request/response
// vocabulary between the engine and any controller, carried over
// internal/ring (UI↔RT) and mirrored out to gorilla/websocket for
// out-of-process controllers.
package uiproto

import "github.com/synthpod/synthpod/internal/urid"

// Verb names one of the request/response message kinds the engine
// understands, from module and connection management through patch
// parameter access to UI focus bookkeeping.
type Verb int

const (
	VerbUnknown Verb = iota

	// Module
	ModuleList
	ModuleAdd
	ModuleDel
	ModuleMove
	ModulePresetLoad
	ModulePresetSave
	ModuleVisible
	ModuleDisabled
	ModuleProfiling
	ModulePositionX
	ModulePositionY
	ModuleSelected
	ModuleEmbedded

	// Connection
	ConnectionList
	NodeList

	// Subscription / notification
	SubscriptionList
	NotificationList

	// Automation
	AutomationList

	// Session
	BundleLoad
	BundleSave
	PathGet
	Quit
	CPUsAvailable
	CPUsUsed
	PeriodSize
	GridColumn
	GridRow
	GridPosition
	ColumnEnabled
	RowEnabled

	// UI focus and profiling
	PortMonitored
	PortSelected
	PortRefresh
	DSPProfiling
	PaneLeft

	// Parameter
	PatchSet
	PatchGet
	PatchPut
	PatchPatch
	PatchError
)

// verbURI maps each Verb to the URI urid.Regs interned it under, so a
// Message can be written to/read from an internal/ring.Ring using the
// wire's actual URID rather than this package's own enum ordinal
// (which is not stable across builds the way an interned URI is).
func verbURI(regs *urid.Regs, v Verb) urid.ID {
	switch v {
	case ModuleList:
		return regs.ModuleList
	case ModuleAdd:
		return regs.ModuleAdd
	case ModuleDel:
		return regs.ModuleDel
	case ModuleMove:
		return regs.ModuleMove
	case ModulePresetLoad:
		return regs.ModulePresetLoad
	case ModulePresetSave:
		return regs.ModulePresetSave
	case ModuleVisible:
		return regs.ModuleVisible
	case ModuleDisabled:
		return regs.ModuleDisabled
	case ModuleProfiling:
		return regs.ModuleProfiling
	case ModulePositionX:
		return regs.ModulePositionX
	case ModulePositionY:
		return regs.ModulePositionY
	case ModuleSelected:
		return regs.ModuleSelected
	case ModuleEmbedded:
		return regs.ModuleEmbedded
	case ConnectionList:
		return regs.ConnectionList
	case NodeList:
		return regs.NodeList
	case SubscriptionList:
		return regs.SubscriptionList
	case NotificationList:
		return regs.NotificationList
	case AutomationList:
		return regs.AutomationList
	case BundleLoad:
		return regs.BundleLoad
	case BundleSave:
		return regs.BundleSave
	case PathGet:
		return regs.PathGet
	case Quit:
		return regs.Quit
	case CPUsAvailable:
		return regs.CPUsAvailable
	case CPUsUsed:
		return regs.CPUsUsed
	case PeriodSize:
		return regs.PeriodSize
	case GridColumn:
		return regs.GridColumn
	case GridRow:
		return regs.GridRow
	case GridPosition:
		return regs.GridPosition
	case ColumnEnabled:
		return regs.ColumnEnabled
	case RowEnabled:
		return regs.RowEnabled
	case PortMonitored:
		return regs.PortMonitored
	case PortSelected:
		return regs.PortSelected
	case PortRefresh:
		return regs.PortRefresh
	case DSPProfiling:
		return regs.DSPProfiling
	case PaneLeft:
		return regs.PaneLeft
	case PatchSet:
		return regs.PatchSet
	case PatchGet:
		return regs.PatchGet
	case PatchPut:
		return regs.PatchPut
	case PatchPatch:
		return regs.PatchPatch
	case PatchError:
		return regs.PatchError
	default:
		return 0
	}
}

func verbFromURI(regs *urid.Regs, id urid.ID) Verb {
	for v := ModuleList; v <= PatchError; v++ {
		if verbURI(regs, v) == id {
			return v
		}
	}
	return VerbUnknown
}

// Message is the closed Go sum type over every known verb's payload.
// Unknown verbs decode to RawMessage instead (forward compatibility).
type Message struct {
	Verb Verb

	// Fields are populated according to Verb; unused ones are zero.
	ModuleURN     urid.ID
	PluginURI     string
	PortSymbol    urid.ID
	X, Y          float32
	Alias         string
	Enabled       bool
	ProfileMinNs  float64
	ProfileAvgNs  float64
	ProfileMaxNs  float64

	SinkModule   urid.ID
	SinkSymbol   urid.ID
	SourceModule urid.ID
	SourceSymbol urid.ID
	Gain         float32

	Path string

	NotificationValue   float32
	NotificationPeakMin float32
	NotificationPeakMax float32
	NotificationAtom    []byte

	IntValue  int32
	BoolValue bool

	// Automation-mapping fields, used by AutomationList.
	AutoKind       int32 // 0 none, 1 midi, 2 osc
	Channel        int32
	Controller     int32
	SrcMin, SrcMax float64
	SnkMin, SnkMax float64
	SrcEnabled     bool
	SnkEnabled     bool
	Learning       bool

	Raw *RawMessage
}

// RawMessage preserves an unrecognised verb's URID and payload bytes
// verbatim, so a newer controller talking to an older engine (or vice
// versa) degrades to a logged skip rather than a parse failure.
type RawMessage struct {
	VerbURID urid.ID
	Payload  []byte
}
