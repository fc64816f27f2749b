package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"gocv.io/x/gocv"
)

const (
	naluTypeSlice = 1
	naluTypeIDR   = 5
	naluTypeSPS   = 7

	// maxGOPBytes bounds the buffered group of pictures.
	maxGOPBytes = 8 << 20
)

var (
	annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}
	jpegSOI         = []byte{0xFF, 0xD8, 0xFF}

	errNoPicture = errors.New("capture: no decodable picture")
)

// gopAssembler depacketizes H264 RTP and keeps the Annex-B stream from the
// most recent SPS onwards, so the buffer always starts at a decodable point.
type gopAssembler struct {
	depack   codecs.H264Packet
	buf      bytes.Buffer
	started  bool
	keyframe bool
	pictures int
}

// Push adds one RTP packet.
func (a *gopAssembler) Push(pkt *rtp.Packet) error {
	if len(pkt.Payload) == 0 {
		return nil
	}
	data, err := a.depack.Unmarshal(pkt.Payload)
	if err != nil {
		return err
	}
	for _, nal := range splitAnnexB(data) {
		a.add(nal)
	}
	if a.buf.Len() > maxGOPBytes {
		a.reset()
	}
	return nil
}

func (a *gopAssembler) add(nal []byte) {
	typ := nal[0] & 0x1F
	if typ == naluTypeSPS {
		a.reset()
		a.started = true
	}
	if !a.started {
		return
	}
	switch typ {
	case naluTypeIDR:
		a.keyframe = true
		a.pictures++
	case naluTypeSlice:
		a.pictures++
	}
	a.buf.Write(annexBStartCode)
	a.buf.Write(nal)
}

func (a *gopAssembler) reset() {
	a.buf.Reset()
	a.started = false
	a.keyframe = false
	a.pictures = 0
}

// Ready reports whether the buffer holds at least one keyframe.
func (a *gopAssembler) Ready() bool {
	return a.started && a.keyframe
}

// Pictures returns the number of coded slices buffered since the SPS.
func (a *gopAssembler) Pictures() int {
	return a.pictures
}

// Bytes returns the buffered Annex-B stream. The slice is only valid until
// the next Push.
func (a *gopAssembler) Bytes() []byte {
	return a.buf.Bytes()
}

// splitAnnexB splits a stream on 4-byte start codes.
func splitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	for _, part := range bytes.Split(data, annexBStartCode) {
		if len(part) > 0 {
			nals = append(nals, part)
		}
	}
	return nals
}

// lastJPEG returns the last image of a concatenated MJPEG stream.
func lastJPEG(stream []byte) ([]byte, bool) {
	i := bytes.LastIndex(stream, jpegSOI)
	if i < 0 {
		return nil, false
	}
	return stream[i:], true
}

// h264Decoder turns an Annex-B stream into its last picture.
type h264Decoder interface {
	Decode(ctx context.Context, stream []byte) (gocv.Mat, error)
}

// ffmpegDecoder pipes the stream through ffmpeg and reads MJPEG back.
type ffmpegDecoder struct {
	bin     string
	timeout time.Duration
}

func (d ffmpegDecoder) Decode(ctx context.Context, stream []byte) (gocv.Mat, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.bin,
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stream)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero on a truncated trailing picture; whatever it
	// already wrote is still usable.
	runErr := cmd.Run()

	img, ok := lastJPEG(stdout.Bytes())
	if !ok {
		if runErr != nil {
			return gocv.Mat{}, fmt.Errorf("capture: ffmpeg: %w: %s", runErr, bytes.TrimSpace(stderr.Bytes()))
		}
		return gocv.Mat{}, errNoPicture
	}

	mat, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("capture: decode jpeg: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, errNoPicture
	}
	return mat, nil
}
