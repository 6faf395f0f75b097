package urid

// Well-known URI strings interned once at startup. These follow the
// plugin standard's own namespaces so that bundles and wire messages
// stay interoperable with the metadata database and any out-of-process
// controller.
const (
	// Port types.
	URIAudioPort   = "http://lv2plug.in/ns/lv2core#AudioPort"
	URIControlPort = "http://lv2plug.in/ns/lv2core#ControlPort"
	URICVPort      = "http://lv2plug.in/ns/lv2core#CVPort"
	URIAtomPort    = "http://lv2plug.in/ns/ext/atom#AtomPort"

	// Atom subtypes carried by an Atom port (bitmask membership).
	URIMIDIEvent    = "http://lv2plug.in/ns/ext/midi#MidiEvent"
	URIOSCEvent     = "http://opensoundcontrol.org/spec-1_0#OscEvent"
	URITimePosition = "http://lv2plug.in/ns/ext/time#Position"
	URIPatchMessage = "http://lv2plug.in/ns/ext/patch#Message"
	URIXpressEvent  = "http://lv2plug.in/ns/ext/xpress#Message"

	// Patch protocol verbs.
	URIPatchSet   = "http://lv2plug.in/ns/ext/patch#Set"
	URIPatchGet   = "http://lv2plug.in/ns/ext/patch#Get"
	URIPatchPut   = "http://lv2plug.in/ns/ext/patch#Put"
	URIPatchPatch = "http://lv2plug.in/ns/ext/patch#Patch"
	URIPatchError = "http://lv2plug.in/ns/ext/patch#Error"

	// Transfer protocols used on subscription notifications.
	URIEventTransfer = "http://lv2plug.in/ns/ext/atom#eventTransfer"
	URIFloatProtocol = "http://lv2plug.in/ns/ext/parameters#floatProtocol"
	URIPeakProtocol  = "http://lv2plug.in/ns/ext/port-props#peakProtocol"

	// Built-in module plugin URIs (source/sink, see internal/builtin).
	URISourceModule = "http://open-music-kontrollers.ch/synthpod#source"
	URISinkModule   = "http://open-music-kontrollers.ch/synthpod#sink"

	// UI/session protocol verbs; see internal/uiproto.
	URIModuleList         = "http://open-music-kontrollers.ch/synthpod#moduleList"
	URIModuleAdd          = "http://open-music-kontrollers.ch/synthpod#moduleAdd"
	URIModuleDel          = "http://open-music-kontrollers.ch/synthpod#moduleDel"
	URIModuleMove         = "http://open-music-kontrollers.ch/synthpod#moduleMove"
	URIModulePresetLoad   = "http://open-music-kontrollers.ch/synthpod#modulePresetLoad"
	URIModulePresetSave   = "http://open-music-kontrollers.ch/synthpod#modulePresetSave"
	URIModuleVisible      = "http://open-music-kontrollers.ch/synthpod#moduleVisible"
	URIModuleDisabled     = "http://open-music-kontrollers.ch/synthpod#moduleDisabled"
	URIModuleProfiling    = "http://open-music-kontrollers.ch/synthpod#moduleProfiling"
	URIModulePositionX    = "http://open-music-kontrollers.ch/synthpod#modulePositionX"
	URIModulePositionY    = "http://open-music-kontrollers.ch/synthpod#modulePositionY"
	URIModuleSelected     = "http://open-music-kontrollers.ch/synthpod#moduleSelected"
	URIModuleEmbedded     = "http://open-music-kontrollers.ch/synthpod#moduleEmbedded"
	URIConnectionList     = "http://open-music-kontrollers.ch/synthpod#connectionList"
	URINodeList           = "http://open-music-kontrollers.ch/synthpod#nodeList"
	URISubscriptionList   = "http://open-music-kontrollers.ch/synthpod#subscriptionList"
	URINotificationList   = "http://open-music-kontrollers.ch/synthpod#notificationList"
	URIAutomationList     = "http://open-music-kontrollers.ch/synthpod#automationList"
	URIBundleLoad         = "http://open-music-kontrollers.ch/synthpod#bundleLoad"
	URIBundleSave         = "http://open-music-kontrollers.ch/synthpod#bundleSave"
	URIPathGet            = "http://open-music-kontrollers.ch/synthpod#pathGet"
	URIQuit               = "http://open-music-kontrollers.ch/synthpod#quit"
	URICPUsAvailable      = "http://open-music-kontrollers.ch/synthpod#CPUsAvailable"
	URICPUsUsed           = "http://open-music-kontrollers.ch/synthpod#CPUsUsed"
	URIPeriodSize         = "http://open-music-kontrollers.ch/synthpod#periodSize"
	URIGridColumn         = "http://open-music-kontrollers.ch/synthpod#gridColumn"
	URIGridRow            = "http://open-music-kontrollers.ch/synthpod#gridRow"
	URIGridPosition       = "http://open-music-kontrollers.ch/synthpod#gridPosition"
	URIColumnEnabled      = "http://open-music-kontrollers.ch/synthpod#columnEnabled"
	URIRowEnabled         = "http://open-music-kontrollers.ch/synthpod#rowEnabled"
	URIPortMonitored      = "http://open-music-kontrollers.ch/synthpod#portMonitored"
	URIPortSelected       = "http://open-music-kontrollers.ch/synthpod#portSelected"
	URIPortRefresh        = "http://open-music-kontrollers.ch/synthpod#portRefresh"
	URIDSPProfiling       = "http://open-music-kontrollers.ch/synthpod#dspProfiling"
	URIPaneLeft           = "http://open-music-kontrollers.ch/synthpod#paneLeft"

	// Parameter vocabulary.
	URIParamGain = "http://lv2plug.in/ns/ext/parameters#gain"

	// RT↔Worker work-scheduling channel (schedule_work/work),
	// internal to this engine and never exposed on the UI protocol.
	URIWorkRequest  = "http://open-music-kontrollers.ch/synthpod#workRequest"
	URIWorkResponse = "http://open-music-kontrollers.ch/synthpod#workResponse"
)

// AtomSubtype is a bitmask over the event types an Atom port accepts.
type AtomSubtype uint32

const (
	AtomSubtypeAll   AtomSubtype = 0
	AtomSubtypeMIDI  AtomSubtype = 1 << 0
	AtomSubtypeOSC   AtomSubtype = 1 << 1
	AtomSubtypeTime  AtomSubtype = 1 << 2
	AtomSubtypePatch AtomSubtype = 1 << 3
	AtomSubtypeXpress AtomSubtype = 1 << 4
)

// Regs holds every well-known URI interned once at engine startup, so
// hot paths compare IDs rather than strings.
type Regs struct {
	AudioPort   ID
	ControlPort ID
	CVPort      ID
	AtomPort    ID

	MIDIEvent    ID
	OSCEvent     ID
	TimePosition ID
	PatchMessage ID
	XpressEvent  ID

	PatchSet   ID
	PatchGet   ID
	PatchPut   ID
	PatchPatch ID
	PatchError ID

	EventTransfer ID
	FloatProtocol ID
	PeakProtocol  ID

	SourceModule ID
	SinkModule   ID

	ModuleList       ID
	ModuleAdd        ID
	ModuleDel        ID
	ModuleMove       ID
	ModulePresetLoad ID
	ModulePresetSave ID
	ModuleVisible    ID
	ModuleDisabled   ID
	ModuleProfiling  ID
	ModulePositionX  ID
	ModulePositionY  ID
	ModuleSelected   ID
	ModuleEmbedded   ID

	ConnectionList   ID
	NodeList         ID
	SubscriptionList ID
	NotificationList ID
	AutomationList   ID

	BundleLoad    ID
	BundleSave    ID
	PathGet       ID
	Quit          ID
	CPUsAvailable ID
	CPUsUsed      ID
	PeriodSize    ID
	GridColumn    ID
	GridRow       ID
	GridPosition  ID
	ColumnEnabled ID
	RowEnabled    ID

	PortMonitored ID
	PortSelected  ID
	PortRefresh   ID
	DSPProfiling  ID
	PaneLeft      ID

	ParamGain ID

	WorkRequest  ID
	WorkResponse ID
}

// NewRegs interns every well-known URI into r and returns the resulting
// lookup table. Call once at engine startup.
func NewRegs(r *Registry) *Regs {
	return &Regs{
		AudioPort:   r.Map(URIAudioPort),
		ControlPort: r.Map(URIControlPort),
		CVPort:      r.Map(URICVPort),
		AtomPort:    r.Map(URIAtomPort),

		MIDIEvent:    r.Map(URIMIDIEvent),
		OSCEvent:     r.Map(URIOSCEvent),
		TimePosition: r.Map(URITimePosition),
		PatchMessage: r.Map(URIPatchMessage),
		XpressEvent:  r.Map(URIXpressEvent),

		PatchSet:   r.Map(URIPatchSet),
		PatchGet:   r.Map(URIPatchGet),
		PatchPut:   r.Map(URIPatchPut),
		PatchPatch: r.Map(URIPatchPatch),
		PatchError: r.Map(URIPatchError),

		EventTransfer: r.Map(URIEventTransfer),
		FloatProtocol: r.Map(URIFloatProtocol),
		PeakProtocol:  r.Map(URIPeakProtocol),

		SourceModule: r.Map(URISourceModule),
		SinkModule:   r.Map(URISinkModule),

		ModuleList:       r.Map(URIModuleList),
		ModuleAdd:        r.Map(URIModuleAdd),
		ModuleDel:        r.Map(URIModuleDel),
		ModuleMove:       r.Map(URIModuleMove),
		ModulePresetLoad: r.Map(URIModulePresetLoad),
		ModulePresetSave: r.Map(URIModulePresetSave),
		ModuleVisible:    r.Map(URIModuleVisible),
		ModuleDisabled:   r.Map(URIModuleDisabled),
		ModuleProfiling:  r.Map(URIModuleProfiling),
		ModulePositionX:  r.Map(URIModulePositionX),
		ModulePositionY:  r.Map(URIModulePositionY),
		ModuleSelected:   r.Map(URIModuleSelected),
		ModuleEmbedded:   r.Map(URIModuleEmbedded),

		ConnectionList:   r.Map(URIConnectionList),
		NodeList:         r.Map(URINodeList),
		SubscriptionList: r.Map(URISubscriptionList),
		NotificationList: r.Map(URINotificationList),
		AutomationList:   r.Map(URIAutomationList),

		BundleLoad:    r.Map(URIBundleLoad),
		BundleSave:    r.Map(URIBundleSave),
		PathGet:       r.Map(URIPathGet),
		Quit:          r.Map(URIQuit),
		CPUsAvailable: r.Map(URICPUsAvailable),
		CPUsUsed:      r.Map(URICPUsUsed),
		PeriodSize:    r.Map(URIPeriodSize),
		GridColumn:    r.Map(URIGridColumn),
		GridRow:       r.Map(URIGridRow),
		GridPosition:  r.Map(URIGridPosition),
		ColumnEnabled: r.Map(URIColumnEnabled),
		RowEnabled:    r.Map(URIRowEnabled),

		PortMonitored: r.Map(URIPortMonitored),
		PortSelected:  r.Map(URIPortSelected),
		PortRefresh:   r.Map(URIPortRefresh),
		DSPProfiling:  r.Map(URIDSPProfiling),
		PaneLeft:      r.Map(URIPaneLeft),

		ParamGain: r.Map(URIParamGain),

		WorkRequest:  r.Map(URIWorkRequest),
		WorkResponse: r.Map(URIWorkResponse),
	}
}
