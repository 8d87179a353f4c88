package datalogger

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// SHT85 single-shot measurement, high repeatability, no clock stretching.
const (
	sht85Address     = 0x44
	sht85MeasureHigh = 0x2400
	sht85SoftReset   = 0x30A2
	sht85FrameLen    = 6
)

// AmbientSensor reads a host-side reference humidity/temperature value to
// compare against the containers reported by the board.
type AmbientSensor interface {
	ReadTemperatureHumidity() (temperature, humidity float64, err error)
	Close() error
}

// SHT85 is a Sensirion SHT85 on the logging host's I2C bus.
type SHT85 struct {
	bus i2c.BusCloser
	dev i2c.Dev
}

// NewSHT85 probes every I2C bus for the sensor.
func NewSHT85() (*SHT85, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host: %w", err)
	}

	var lastErr error
	for _, busRef := range i2creg.All() {
		bus, err := i2creg.Open(busRef.Name)
		if err != nil {
			lastErr = err
			continue
		}

		sht := &SHT85{bus: bus, dev: i2c.Dev{Bus: bus, Addr: sht85Address}}
		if err := sht.command(sht85SoftReset); err != nil {
			bus.Close()
			lastErr = err
			continue
		}
		time.Sleep(10 * time.Millisecond)
		return sht, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no I2C buses")
	}
	return nil, fmt.Errorf("SHT85 not found on any bus: %w", lastErr)
}

func (s *SHT85) command(cmd uint16) error {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, cmd)
	return s.dev.Tx(buf, nil)
}

func (s *SHT85) ReadTemperatureHumidity() (float64, float64, error) {
	if err := s.command(sht85MeasureHigh); err != nil {
		return 0, 0, fmt.Errorf("measurement command: %w", err)
	}
	// high repeatability takes ~15 ms
	time.Sleep(15 * time.Millisecond)

	buf := make([]byte, sht85FrameLen)
	if err := s.dev.Tx(nil, buf); err != nil {
		return 0, 0, fmt.Errorf("read measurement: %w", err)
	}
	return decodeSHT85(buf)
}

func (s *SHT85) Close() error {
	return s.bus.Close()
}

// decodeSHT85 converts the 6-byte measurement frame
// (temp MSB, LSB, CRC, hum MSB, LSB, CRC).
func decodeSHT85(buf []byte) (float64, float64, error) {
	if len(buf) != sht85FrameLen {
		return 0, 0, fmt.Errorf("short SHT85 frame: %d bytes", len(buf))
	}
	for _, word := range []struct {
		name string
		off  int
	}{{"temperature", 0}, {"humidity", 3}} {
		if sum := sensirionCRC(buf[word.off : word.off+2]); sum != buf[word.off+2] {
			return 0, 0, fmt.Errorf("%s checksum %#02x, frame says %#02x", word.name, sum, buf[word.off+2])
		}
	}

	rawTemp := binary.BigEndian.Uint16(buf[0:2])
	rawHum := binary.BigEndian.Uint16(buf[3:5])
	temperature := float64(rawTemp)*175.0/65535.0 - 45.0
	humidity := float64(rawHum) * 100.0 / 65535.0
	return temperature, humidity, nil
}

// crcTable is CRC-8 with polynomial 0x31 (x^8 + x^5 + x^4 + 1), as used by
// Sensirion sensors.
var crcTable = func() (t [256]byte) {
	for i := range t {
		c := byte(i)
		for bit := 0; bit < 8; bit++ {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x31
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// sensirionCRC checksums one measurement word, starting from 0xFF.
func sensirionCRC(word []byte) byte {
	sum := byte(0xFF)
	for _, b := range word {
		sum = crcTable[sum^b]
	}
	return sum
}

// MonitorAmbient polls sensor every interval until ctx is done, feeding the
// live hub and the ambient gauges. It owns sensor and closes it on return.
func MonitorAmbient(ctx context.Context, sensor AmbientSensor, interval time.Duration, pub Publisher, m *Metrics) {
	defer sensor.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		temp, hum, err := sensor.ReadTemperatureHumidity()
		if err != nil {
			log.Warn().Err(err).Msg("ambient sensor read failed")
			continue
		}
		m.SetAmbient(temp, hum)
		if pub != nil {
			pub.Publish(Event{Type: EventAmbient, Time: time.Now(), Temperature: temp, Humidity: hum})
		}
	}
}
