package netceiver

import "errors"

var (
	ErrSessionAllocation         = errors.New("receiver session allocation failed")
	ErrTune                      = errors.New("tuning failed")
	ErrPIDApply                  = errors.New("applying pids failed")
	ErrCapacityExceeded          = errors.New("pid list full")
	ErrDuplicatePID              = errors.New("pid already requested")
	ErrUnsupportedDeliverySystem = errors.New("delivery system not supported")
	ErrInvalidToken              = errors.New("invalid filter token")
	ErrDiseqcOutOfRange          = errors.New("diseqc position out of range")
	ErrUnknownPolarization       = errors.New("unknown polarization")
)
