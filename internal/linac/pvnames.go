package linac

import "fmt"

// Cavity PV binding names. These mirror the LLRF record names under each
// cavity's address prefix.
const (
	PVAmplitudeDes   = "ADES"        // desired amplitude setpoint (MV)
	PVAmplitudeAct   = "AACT"        // actual amplitude readback (MV)
	PVRFControl      = "RFCTRL"      // RF on/off request
	PVRFState        = "RFSTATE"     // RF on/off readback
	PVRFModeControl  = "RFMODECTRL"  // requested loop mode
	PVRFMode         = "RFMODE"      // actual loop mode readback
	PVDetune         = "DFBEST"      // best-estimate detune (Hz)
	PVQuenchLatch    = "QUENCH_LTCH" // quench interlock latch
	PVInterlockReset = "INTLK_RESET_ALL"
	PVCharStart      = "PROBECALSTRT" // characterization start request
	PVCharStatus     = "PROBECALSTS"  // characterization status readback
	PVSSAOn          = "SSA:PWRON"
	PVSSAOff         = "SSA:PWROFF"
	PVSSAStatus      = "SSA:STATUS"
)

// RF on/off values for RFCTRL/RFSTATE.
const (
	RFOff float64 = 0
	RFOn  float64 = 1
)

// Loop mode values for RFMODECTRL/RFMODE, in enum order.
const (
	ModeSELAP  float64 = 0
	ModeSELA   float64 = 1
	ModeSEL    float64 = 2
	ModeSELRaw float64 = 3
	ModePulse  float64 = 4
	ModeChirp  float64 = 5
)

// Characterization status values for PROBECALSTS.
const (
	CharIdle     float64 = 0
	CharRunning  float64 = 1
	CharComplete float64 = 2
	CharError    float64 = 3
)

// SSA status values for SSA:STATUS.
const (
	SSAOff float64 = 0
	SSAOn  float64 = 1
)

// Quench latch values for QUENCH_LTCH.
const (
	QuenchClear   float64 = 0
	QuenchLatched float64 = 1
)

// cavityPVBindings lists every binding created per cavity.
var cavityPVBindings = []string{
	PVAmplitudeDes,
	PVAmplitudeAct,
	PVRFControl,
	PVRFState,
	PVRFModeControl,
	PVRFMode,
	PVDetune,
	PVQuenchLatch,
	PVInterlockReset,
	PVCharStart,
	PVCharStatus,
	PVSSAOn,
	PVSSAOff,
	PVSSAStatus,
}

// cavityPVPrefix builds the address prefix for one cavity,
// e.g. ("L1B", "02", 3) -> "ACCL:L1B:0230:".
func cavityPVPrefix(linacName, cmName string, cavity int) string {
	return fmt.Sprintf("ACCL:%s:%s%d0:", linacName, cmName, cavity)
}

// cryomodulePVPrefix builds the address prefix for a cryomodule,
// e.g. ("L1B", "02") -> "ACCL:L1B:0200:".
func cryomodulePVPrefix(linacName, cmName string) string {
	return fmt.Sprintf("ACCL:%s:%s00:", linacName, cmName)
}
