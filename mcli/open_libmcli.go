//go:build libmcli && cgo
// +build libmcli,cgo

package mcli

/*
#cgo CFLAGS: -DCLIENT
#cgo LDFLAGS: -lmcli
#include <stdlib.h>
#include <string.h>
#include <mcli/headers.h>

extern int goHandleTS(unsigned char *buffer, size_t len, void *p);
extern int goHandleTen(tra_t *ten, void *p);

static int ts_trampoline(unsigned char *buffer, size_t len, void *p) {
	return goHandleTS(buffer, len, p);
}

static int ten_trampoline(tra_t *ten, void *p) {
	return goHandleTen(ten, p);
}

static void set_ts_handler(recv_info_t *r, void *p) {
	register_ts_handler(r, p ? ts_trampoline : NULL, p);
}

static void set_ten_handler(recv_info_t *r, void *p) {
	register_ten_handler(r, p ? ten_trampoline : NULL, p);
}

static void set_qpsk(struct dvb_frontend_parameters *fe, unsigned int sr, unsigned int fec) {
	fe->u.qpsk.symbol_rate = sr;
	fe->u.qpsk.fec_inner = fec;
}

static void set_qam(struct dvb_frontend_parameters *fe, unsigned int sr, unsigned int fec, unsigned int mod) {
	fe->u.qam.symbol_rate = sr;
	fe->u.qam.fec_inner = fec;
	fe->u.qam.modulation = mod;
}

static netceiver_info_t *nci_at(netceiver_info_list_t *l, int i) { return l->nci + i; }
static tuner_info_t *tuner_at(netceiver_info_t *n, int i) { return n->tuner + i; }
static int tuner_type(tuner_info_t *t) { return t->fe_info.type; }
static char *tuner_name(tuner_info_t *t) { return t->fe_info.name; }

static void festatus(tra_t *ten, unsigned int *st, unsigned int *ber, unsigned int *strength, unsigned int *snr) {
	*st = ten->s.st;
	*ber = ten->s.ber;
	*strength = ten->s.strength;
	*snr = ten->s.snr;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	pointer "github.com/mattn/go-pointer"
)

// Open returns the libmcli binding.
func Open() (Library, error) {
	return &library{}, nil
}

type library struct{}

func (l *library) Init(iface string, port int) error {
	cIface := C.CString(iface)
	defer C.free(unsafe.Pointer(cIface))
	if C.recv_init(cIface, C.int(port)) != 0 {
		return fmt.Errorf("recv_init %s:%d failed", iface, port)
	}
	return nil
}

func (l *library) Devices() []DeviceInfo {
	list := C.nc_get_list()
	if list == nil {
		return nil
	}
	result := make([]DeviceInfo, 0, int(list.nci_num))
	for n := 0; n < int(list.nci_num); n++ {
		nci := C.nci_at(list, C.int(n))
		device := DeviceInfo{
			UUID:   C.GoString(&nci.uuid[0]),
			Tuners: make([]TunerInfo, 0, int(nci.tuner_num)),
		}
		for i := 0; i < int(nci.tuner_num); i++ {
			tuner := C.tuner_at(nci, C.int(i))
			device.Tuners = append(device.Tuners, TunerInfo{
				Name: C.GoString(C.tuner_name(tuner)),
				Type: FrontendType(C.tuner_type(tuner)),
			})
		}
		result = append(result, device)
	}
	return result
}

func (l *library) LockDevices() {
	C.nc_lock_list()
}

func (l *library) UnlockDevices() {
	C.nc_unlock_list()
}

func (l *library) NewReceiver() (Receiver, error) {
	r := C.recv_add()
	if r == nil {
		return nil, ErrNoReceiver
	}
	return &receiver{rec: r}, nil
}

type receiver struct {
	mu        sync.Mutex
	rec       *C.recv_info_t
	tsCtx     unsafe.Pointer
	statusCtx unsafe.Pointer
}

func (r *receiver) RegisterStreamHandler(h StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.tsCtx
	r.tsCtx = nil
	if h != nil {
		r.tsCtx = pointer.Save(h)
	}
	C.set_ts_handler(r.rec, r.tsCtx)
	if old != nil {
		pointer.Unref(old)
	}
}

func (r *receiver) RegisterStatusHandler(h StatusHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.statusCtx
	r.statusCtx = nil
	if h != nil {
		r.statusCtx = pointer.Save(h)
	}
	C.set_ten_handler(r.rec, r.statusCtx)
	if old != nil {
		pointer.Unref(old)
	}
}

func (r *receiver) Tune(fe FrontendType, position int, sec *SecParameters, params *FrontendParameters, filter []PID) error {
	var cSec C.recv_sec_t
	var cFe C.struct_dvb_frontend_parameters
	if sec != nil {
		cSec.voltage = C.fe_sec_voltage_t(sec.Voltage)
	}
	if params != nil {
		cFe.frequency = C.__u32(params.Frequency)
		cFe.inversion = C.fe_spectral_inversion_t(params.Inversion)
		if fe == FrontendQAM {
			C.set_qam(&cFe, C.uint(params.SymbolRate), C.uint(params.FECInner), C.uint(params.Modulation))
		} else {
			C.set_qpsk(&cFe, C.uint(params.SymbolRate), C.uint(params.FECInner))
		}
	}
	pids, free := cFilter(filter)
	defer free()

	if C.recv_tune(r.rec, C.fe_type_t(fe), C.int(position), &cSec, &cFe, pids) != 0 {
		return fmt.Errorf("recv_tune failed")
	}
	return nil
}

func (r *receiver) SetPIDs(filter []PID) error {
	pids, free := cFilter(filter)
	defer free()
	if C.recv_pids(r.rec, pids) != 0 {
		return fmt.Errorf("recv_pids failed")
	}
	return nil
}

func (r *receiver) Stop() error {
	if C.recv_stop(r.rec) != 0 {
		return fmt.Errorf("recv_stop failed")
	}
	return nil
}

func (r *receiver) Release() {
	r.RegisterStatusHandler(nil)
	r.RegisterStreamHandler(nil)
	C.recv_del(r.rec)
	r.rec = nil
}

func cFilter(filter []PID) (*C.dvb_pid_t, func()) {
	n := FilterLen(filter) + 1
	size := C.size_t(n) * C.size_t(unsafe.Sizeof(C.dvb_pid_t{}))
	mem := C.malloc(size)
	C.memset(mem, 0, size)
	pids := (*[1 << 16]C.dvb_pid_t)(mem)[:n:n]
	for i := 0; i < n-1; i++ {
		pids[i].pid = C.int(filter[i].PID)
		pids[i].id = C.int(filter[i].ID)
	}
	pids[n-1].pid = C.int(FilterEnd.PID)
	return &pids[0], func() { C.free(mem) }
}

//export goHandleTS
func goHandleTS(buffer *C.uchar, length C.size_t, p unsafe.Pointer) C.int {
	h, ok := pointer.Restore(p).(StreamHandler)
	if !ok || h == nil {
		return C.int(length)
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(buffer)), int(length))
	return C.int(h.HandleTS(buf))
}

//export goHandleTen
func goHandleTen(ten *C.tra_t, p unsafe.Pointer) C.int {
	h, ok := pointer.Restore(p).(StatusHandler)
	if !ok || h == nil {
		return 0
	}
	if ten == nil {
		return C.int(h.HandleStatus(nil))
	}
	var st, ber, strength, snr C.uint
	C.festatus(ten, &st, &ber, &strength, &snr)
	return C.int(h.HandleStatus(&FrontendStatus{
		Status:   uint32(st),
		BER:      uint32(ber),
		Strength: uint32(strength),
		SNR:      uint32(snr),
	}))
}
