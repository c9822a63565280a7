package checkin

// Controls is the set of operator actions enabled for a state.
type Controls struct {
	Scan         bool
	ManualEntry  bool
	Accept       bool
	StartReject  bool
	SubmitReject bool
	CancelReject bool
	Dismiss      bool
}

// ControlsFor derives enabled actions from s. Nothing is enabled while Checking.
func ControlsFor(s ScanState, cameraAvailable bool) Controls {
	switch st := s.(type) {
	case Idle:
		return Controls{Scan: cameraAvailable, ManualEntry: true}
	case Success, Failed:
		return Controls{Scan: cameraAvailable, ManualEntry: true, Dismiss: true}
	case Review:
		return Controls{Accept: true, StartReject: true}
	case Rejecting:
		return Controls{SubmitReject: st.Draft.Complete(), CancelReject: true}
	default:
		return Controls{}
	}
}
