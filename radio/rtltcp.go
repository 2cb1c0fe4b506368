package radio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

var dongleMagic = [...]byte{'R', 'T', 'L', '0'}

// RTLTCPSource is a live IF source speaking the rtl_tcp protocol. The
// stream is offset-127 uint8 I/Q (FormatUint8IQ).
type RTLTCPSource struct {
	conn *net.TCPConn
	Info DongleInfo
}

// DongleInfo is data pulled from the rtl_tcp server on connection.
type DongleInfo struct {
	Magic     [4]byte
	Tuner     uint32
	GainCount uint32 // useful for setting gain by index
}

// Valid checks the received magic number matches the expected byte string 'RTL0'.
func (d DongleInfo) Valid() bool {
	return d.Magic == dongleMagic
}

// DialRTLTCP connects to an rtl_tcp server ("host:port") and tunes it to
// centerHz at rateHz samples/s.
func DialRTLTCP(addr string, centerHz, rateHz uint32) (src *RTLTCPSource, err error) {
	taddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTCP("tcp", nil, taddr)
	if err != nil {
		return nil, fmt.Errorf("error connecting to spectrum server: %v", err)
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()
	src = &RTLTCPSource{conn: conn}
	if err = binary.Read(conn, binary.BigEndian, &src.Info); err != nil {
		return nil, fmt.Errorf("error getting dongle information: %v", err)
	}
	if !src.Info.Valid() {
		return nil, fmt.Errorf("bad magic number: %q", src.Info.Magic)
	}
	if err = src.SetCenterFreq(centerHz); err != nil {
		return nil, err
	}
	if err = src.SetSampleRate(rateHz); err != nil {
		return nil, err
	}
	return src, nil
}

type command struct {
	Command   uint8
	Parameter uint32
}

// Command constants defined in rtl_tcp.c
const (
	centerFreq = iota + 1
	sampleRate
	tunerGainMode
	tunerGain
	freqCorrection
	tunerIfGain
	testMode
	agcMode
	directSampling
	offsetTuning
	rtlXtalFreq
	tunerXtalFreq
	gainByIndex
)

func (s *RTLTCPSource) do(cmd uint8, v uint32) error {
	return binary.Write(s.conn, binary.BigEndian, command{cmd, v})
}

// SetCenterFreq sets the center frequency in Hz.
func (s *RTLTCPSource) SetCenterFreq(freq uint32) error {
	return s.do(centerFreq, freq)
}

// SetSampleRate sets the sample rate in Hz.
func (s *RTLTCPSource) SetSampleRate(rate uint32) error {
	return s.do(sampleRate, rate)
}

// SetGain sets gain in tenths of dB. (197 => 19.7dB)
func (s *RTLTCPSource) SetGain(gain uint32) error {
	return s.do(tunerGain, gain)
}

// SetGainMode sets the tuner AGC, true to enable.
func (s *RTLTCPSource) SetGainMode(state bool) error {
	if state {
		return s.do(tunerGainMode, 0)
	}
	return s.do(tunerGainMode, 1)
}

// SetGainByIndex sets gain by index, must be <= DongleInfo.GainCount.
func (s *RTLTCPSource) SetGainByIndex(idx uint32) error {
	if idx > s.Info.GainCount {
		return fmt.Errorf("invalid gain index: %d", idx)
	}
	return s.do(gainByIndex, idx)
}

// SetFreqCorrection sets frequency correction in ppm.
func (s *RTLTCPSource) SetFreqCorrection(ppm uint32) error {
	return s.do(freqCorrection, ppm)
}

// SetAGCMode sets RTL AGC mode, true for enabled.
func (s *RTLTCPSource) SetAGCMode(state bool) error {
	if state {
		return s.do(agcMode, 1)
	}
	return s.do(agcMode, 0)
}

// SetDirectSampling sets direct sampling mode.
// 0 = disabled, 1 = i-branch, 2 = q-branch, 3 = direct mod.
func (s *RTLTCPSource) SetDirectSampling(state uint32) error {
	return s.do(directSampling, state)
}

// SetOffsetTuning sets offset tuning, true for enabled.
func (s *RTLTCPSource) SetOffsetTuning(state bool) error {
	if state {
		return s.do(offsetTuning, 1)
	}
	return s.do(offsetTuning, 0)
}

func (s *RTLTCPSource) ReadBlock(buf []byte) error {
	_, err := io.ReadFull(s.conn, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return err
}

func (s *RTLTCPSource) Live() bool { return true }

func (s *RTLTCPSource) Close() error { return s.conn.Close() }
