package admin

import "encoding/json"

// Method names accepted by the admin RPC dispatch table.
const (
	MethodClaimAdmin         = "claim_admin"
	MethodGetConfig          = "get_config"
	MethodSetRelays          = "set_relays"
	MethodSetBlossomServers  = "set_blossom_servers"
	MethodSetBlobExpiration  = "set_blob_expiration"
	MethodSetProfile         = "set_profile"
	MethodPause              = "pause"
	MethodResume             = "resume"
	MethodStatus             = "status"
	MethodJobHistory         = "job_history"
	MethodSelfTest           = "self_test"
	MethodSystemInfo         = "system_info"
	MethodImportEnvConfig    = "import_env_config"
	defaultJobHistoryLimit   = 20
)

// Request is the decrypted admin RPC envelope carried as the content
// of a kind-24207 event.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the encrypted reply, tagged back to the requester with
// a "p" tag at the event layer (added by the caller, not here).
type Response struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

func ok(id string, result interface{}) Response {
	return Response{ID: id, OK: true, Result: result}
}

func okMsg(id, msg string) Response {
	return ok(id, map[string]string{"msg": msg})
}

func fail(id, errMsg string) Response {
	return Response{ID: id, OK: false, Error: errMsg}
}

// ConfigView is the JSON shape returned by get_config.
type ConfigView struct {
	Relays             []string `json:"relays"`
	BlossomServers     []string `json:"blossom_servers"`
	BlobExpirationDays int      `json:"blob_expiration_days"`
	Name               string   `json:"name,omitempty"`
	About              string   `json:"about,omitempty"`
	Paused             bool     `json:"paused"`
}

// StatusView is the JSON shape returned by status.
type StatusView struct {
	Paused        bool   `json:"paused"`
	JobsActive    int    `json:"jobs_active"`
	JobsCompleted int    `json:"jobs_completed"`
	JobsFailed    int    `json:"jobs_failed"`
	UptimeSecs    int64  `json:"uptime_secs"`
	Hwaccel       string `json:"hwaccel"`
	Version       string `json:"version"`
}

// JobInfo is one entry in the job_history response.
type JobInfo struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	InputURL      string `json:"input_url"`
	OutputURL     string `json:"output_url,omitempty"`
	StartedAt     int64  `json:"started_at"`
	CompletedAt   int64  `json:"completed_at,omitempty"`
	DurationSecs  int64  `json:"duration_secs,omitempty"`
}

// SelfTestResult is the JSON shape returned by self_test.
type SelfTestResult struct {
	Success          bool    `json:"success"`
	VideoDurationSec float64 `json:"video_duration_secs,omitempty"`
	EncodeTimeSecs   float64 `json:"encode_time_secs,omitempty"`
	SpeedRatio       float64 `json:"speed_ratio,omitempty"`
	Hwaccel          string  `json:"hwaccel,omitempty"`
	Resolution       string  `json:"resolution,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// SystemInfo is the JSON shape returned by system_info.
type SystemInfo struct {
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	NumCPU      int    `json:"num_cpu"`
	Hwaccel     string `json:"hwaccel"`
	FFmpegPath  string `json:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path"`
}

// setRelaysParams/setBlossomServersParams/etc. are the decoded shapes
// of each method's params field.
type setRelaysParams struct {
	Relays []string `json:"relays"`
}

type setBlossomServersParams struct {
	Servers []string `json:"servers"`
}

type setBlobExpirationParams struct {
	Days int `json:"days"`
}

type setProfileParams struct {
	Name  *string `json:"name,omitempty"`
	About *string `json:"about,omitempty"`
}

type claimAdminParams struct {
	Secret string `json:"secret"`
}

type jobHistoryParams struct {
	Limit int `json:"limit"`
}
