package job

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Hwaccel is the hardware-acceleration backend detected at process
// start and used to plan every encode thereafter.
type Hwaccel string

const (
	HwaccelNvenc        Hwaccel = "nvenc"
	HwaccelQSV           Hwaccel = "qsv"
	HwaccelVideoToolbox Hwaccel = "videotoolbox"
	HwaccelSoftware     Hwaccel = "software"
)

var nvidiaDevices = []string{"/dev/nvidia0", "/dev/nvidiactl"}
var qsvDevices = []string{"/dev/dri/renderD128", "/dev/dri/renderD129"}

// DetectHwaccel probes the host for a usable hardware encoder,
// preferring NVENC over QSV on Linux, always choosing VideoToolbox on
// macOS, and falling back to software everywhere else.
func DetectHwaccel(log *slog.Logger) Hwaccel {
	if runtime.GOOS == "darwin" {
		log.Info("detected macOS, using VideoToolbox hardware acceleration")
		return HwaccelVideoToolbox
	}

	if runtime.GOOS == "linux" {
		if anyExists(nvidiaDevices) {
			log.Info("detected NVIDIA GPU, using NVENC hardware acceleration")
			return HwaccelNvenc
		}
		if anyExists(qsvDevices) {
			log.Info("detected Intel QSV hardware acceleration")
			return HwaccelQSV
		}
	}

	log.Info("no hardware acceleration detected, using software encoding")
	return HwaccelSoftware
}

func anyExists(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// QSVDevice returns the first available QSV render device path, or a
// fallback default if none is currently present.
func (h Hwaccel) QSVDevice() string {
	if h != HwaccelQSV {
		return ""
	}
	for _, p := range qsvDevices {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return qsvDevices[0]
}

// EncoderPlan is the pure value a hardware backend produces for a
// target codec: the encoder name, scale filter, quality-knob flag and
// value, and any fixed extra options.
type EncoderPlan struct {
	Encoder       string
	ScaleFilter   string
	QualityFlag   string
	QualityValue  string
	ExtraOptions  [][2]string
	InitHwDevice  string
	UploadFilter  string
	HwaccelType   string
	HwaccelOutFmt string
}

// Plan builds the EncoderPlan for this backend, target codec, and CRF-
// equivalent quality value.
func (h Hwaccel) Plan(codec Codec, crf int) EncoderPlan {
	p := EncoderPlan{ScaleFilter: h.ScaleFilter()}

	switch h {
	case HwaccelNvenc:
		p.Encoder = encoderName("h264_nvenc", "hevc_nvenc", codec)
		p.QualityFlag, p.QualityValue = "-cq", fmt.Sprintf("%d", crf)
		p.ExtraOptions = [][2]string{{"-preset", "p4"}, {"-tune", "hq"}, {"-rc", "vbr"}}
		p.InitHwDevice = "cuda=cuda:0"
		p.UploadFilter = "hwupload_cuda"
		p.HwaccelType = "cuda"
		p.HwaccelOutFmt = "cuda"
	case HwaccelQSV:
		p.Encoder = encoderName("h264_qsv", "hevc_qsv", codec)
		p.QualityFlag, p.QualityValue = "-global_quality", fmt.Sprintf("%d", crf)
		p.ExtraOptions = [][2]string{{"-preset", "medium"}, {"-look_ahead", "1"}}
		p.InitHwDevice = fmt.Sprintf("qsv=qsv:hw_any,child_device=%s", h.QSVDevice())
		p.UploadFilter = "format=nv12,hwupload=extra_hw_frames=64"
		p.HwaccelType = "qsv"
	case HwaccelVideoToolbox:
		p.Encoder = encoderName("h264_videotoolbox", "hevc_videotoolbox", codec)
		q := 100 - min(80, 2*crf)
		p.QualityFlag, p.QualityValue = "-q:v", fmt.Sprintf("%d", q)
	default:
		p.Encoder = encoderName("libx264", "libx265", codec)
		p.QualityFlag, p.QualityValue = "-crf", fmt.Sprintf("%d", crf)
		p.ExtraOptions = [][2]string{{"-preset", "medium"}}
	}
	return p
}

// ScaleFilter returns the scale filter name for this backend.
func (h Hwaccel) ScaleFilter() string {
	switch h {
	case HwaccelNvenc:
		return "scale_cuda"
	case HwaccelQSV:
		return "scale_qsv"
	default:
		return "scale"
	}
}

func encoderName(h264, h265 string, codec Codec) string {
	if codec == CodecH265 {
		return h265
	}
	return h264
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// String implements fmt.Stringer with a human label matching the
// original family's display names.
func (h Hwaccel) String() string {
	switch h {
	case HwaccelNvenc:
		return "NVIDIA NVENC"
	case HwaccelQSV:
		return "Intel QSV"
	case HwaccelVideoToolbox:
		return "Apple VideoToolbox"
	default:
		return "Software (libx264/libx265)"
	}
}
