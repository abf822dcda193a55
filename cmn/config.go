package cmn

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
)

// DaemonType selects the `-t/--type` flag value: a process is either
// the stage-one `crawler` or the stage-two `loader`.
type DaemonType string

const (
	Crawler DaemonType = "crawler"
	Loader  DaemonType = "loader"
)

// Mode selects one of the three mutually-exclusive worker-pool disciplines
// described below.
type Mode int

const (
	ModeCooperative Mode = iota
	ModeMultiThread
	ModeMultiProcess
)

// ListVerdict is the fallback decision a white/black list applies when
// neither list matches an input (the *_FALLBACK env vars).
type ListVerdict bool

const (
	Allow ListVerdict = true
	Deny  ListVerdict = false
)

// FilterList is a compiled white/black-list pair plus its fallback verdict,
// reused identically for links, MIME types, and proxy kinds.
type FilterList struct {
	white    []*regexp.Regexp
	black    []*regexp.Regexp
	fallback ListVerdict
	casefold bool // proxy-kind lists compare case-folded plain strings, not regex
	whiteS   []string
	blackS   []string
}

func (f *FilterList) Allowed(s string) bool {
	if f == nil {
		return true
	}
	if f.casefold {
		s = strings.ToLower(s)
		for _, w := range f.whiteS {
			if w == s {
				return true
			}
		}
		for _, b := range f.blackS {
			if b == s {
				return false
			}
		}
		return bool(f.fallback)
	}
	for _, re := range f.white {
		if re.MatchString(s) {
			return true
		}
	}
	for _, re := range f.black {
		if re.MatchString(s) {
			return false
		}
	}
	return bool(f.fallback)
}

// Config is the single process-wide configuration holder, populated once at
// startup from the environment and pinned into the global owner below
// (see GCO).
type Config struct {
	Reboot           bool
	Debug            bool
	Verbose          bool
	Force            bool
	CPU              int
	Mode             Mode
	User             string
	PathData         string
	RedisURL         string
	DBURL            string
	LinkList         *FilterList
	MIMEList         *FilterList
	ProxyList        *FilterList
	TimeCache        time.Duration // grace interval for claims; 0 == disabled via inf
	SeleniumWait     time.Duration // 0 == disabled via inf
	DarcWait         time.Duration
	SeleniumRecycle  int
	HostRateInterval time.Duration // token-bucket pacing, default 2s
	ArchiveBackend    string
	ArchiveBucket     string
	ArchiveRegion     string
	ArchiveAccount    string // Azure storage account name
	ArchiveAccountKey string // Azure storage account key
	ArchiveNamenode   string // HDFS namenode address (host:port)

	Tor      ProxyDaemonConfig
	I2P      ProxyDaemonConfig
	ZeroNet  ProxyDaemonConfig
	Freenet  ProxyDaemonConfig
}

// ProxyDaemonConfig holds the per-network daemon knobs
// (`TOR_*`, `I2P_*`, `ZERONET_*`, `FREENET_*`).
type ProxyDaemonConfig struct {
	Bin     string
	Port    int
	Wait    time.Duration
	Retry   int
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		glog.Warningf("cmn: invalid bool for %s=%q, using default %v", key, v, def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		glog.Warningf("cmn: invalid int for %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "inf" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		glog.Warningf("cmn: invalid duration for %s=%q, using default %v", key, v, def)
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func envFilterList(whiteKey, blackKey, fallbackKey string, casefold bool) *FilterList {
	fl := &FilterList{fallback: Allow, casefold: casefold}
	if v := os.Getenv(fallbackKey); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			fl.fallback = ListVerdict(b)
		}
	}
	var whiteRaw, blackRaw []string
	decodeJSONArray(os.Getenv(whiteKey), &whiteRaw)
	decodeJSONArray(os.Getenv(blackKey), &blackRaw)
	if casefold {
		for _, s := range whiteRaw {
			fl.whiteS = append(fl.whiteS, strings.ToLower(s))
		}
		for _, s := range blackRaw {
			fl.blackS = append(fl.blackS, strings.ToLower(s))
		}
		return fl
	}
	for _, s := range whiteRaw {
		if re, err := regexp.Compile(s); err == nil {
			fl.white = append(fl.white, re)
		} else {
			glog.Warningf("cmn: bad regex %q in %s: %v", s, whiteKey, err)
		}
	}
	for _, s := range blackRaw {
		if re, err := regexp.Compile(s); err == nil {
			fl.black = append(fl.black, re)
		} else {
			glog.Warningf("cmn: bad regex %q in %s: %v", s, blackKey, err)
		}
	}
	return fl
}

func decodeJSONArray(raw string, out *[]string) {
	if raw == "" {
		return
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(raw, out); err != nil {
		glog.Warningf("cmn: failed to decode JSON array %q: %v", raw, err)
	}
}

// LoadConfig parses the environment once and validates the
// mutually-exclusive knobs it names (DARC_MULTIPROCESSING/MULTITHREADING,
// DARC_USER != root).
func LoadConfig() (*Config, error) {
	c := &Config{
		Reboot:           envBool("DARC_REBOOT", false),
		Debug:            envBool("DARC_DEBUG", false),
		Verbose:          envBool("DARC_VERBOSE", false),
		Force:            envBool("DARC_FORCE", false),
		CPU:              envInt("DARC_CPU", 4),
		User:             os.Getenv("DARC_USER"),
		PathData:         os.Getenv("PATH_DATA"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DBURL:            os.Getenv("DB_URL"),
		TimeCache:        envDuration("TIME_CACHE", 60*time.Second),
		SeleniumWait:     envDuration("SE_WAIT", 60*time.Second),
		DarcWait:         envDuration("DARC_WAIT", 5*time.Second),
		SeleniumRecycle:  envInt("SE_RECYCLE", 50),
		HostRateInterval: envDuration("DARC_RATE_INTERVAL", 2*time.Second),
		ArchiveBackend:   stringDefault(os.Getenv("ARCHIVE_BACKEND"), "local"),
		ArchiveBucket:    os.Getenv("ARCHIVE_BUCKET"),
		ArchiveRegion:    stringDefault(os.Getenv("ARCHIVE_REGION"), "us-east-1"),
		ArchiveAccount:    os.Getenv("ARCHIVE_AZURE_ACCOUNT"),
		ArchiveAccountKey: os.Getenv("ARCHIVE_AZURE_KEY"),
		ArchiveNamenode:   os.Getenv("ARCHIVE_HDFS_NAMENODE"),
	}
	if c.PathData == "" {
		c.PathData = "./data"
	}

	multiProc := envBool("DARC_MULTIPROCESSING", false)
	multiThread := envBool("DARC_MULTITHREADING", false)
	if multiProc && multiThread {
		return nil, fmt.Errorf("DARC_MULTIPROCESSING and DARC_MULTITHREADING are mutually exclusive")
	}
	switch {
	case multiProc:
		c.Mode = ModeMultiProcess
	case multiThread:
		c.Mode = ModeMultiThread
	default:
		c.Mode = ModeCooperative
	}

	if c.User != "" && c.User == "root" {
		return nil, fmt.Errorf("DARC_USER must not be %q", "root")
	}

	c.LinkList = envFilterList("LINK_WHITE_LIST", "LINK_BLACK_LIST", "LINK_FALLBACK", false)
	c.MIMEList = envFilterList("MIME_WHITE_LIST", "MIME_BLACK_LIST", "MIME_FALLBACK", false)
	c.ProxyList = envFilterList("PROXY_WHITE_LIST", "PROXY_BLACK_LIST", "PROXY_FALLBACK", true)

	c.Tor = ProxyDaemonConfig{
		Bin: stringDefault(os.Getenv("TOR_BIN"), "tor"), Port: envInt("TOR_PORT", 9050),
		Wait: envDuration("TOR_WAIT", 90*time.Second), Retry: envInt("TOR_RETRY", 3),
	}
	c.I2P = ProxyDaemonConfig{
		Bin: stringDefault(os.Getenv("I2P_BIN"), "i2prouter"), Port: envInt("I2P_PORT", 4444),
		Wait: envDuration("I2P_WAIT", 90*time.Second), Retry: envInt("I2P_RETRY", 3),
	}
	c.ZeroNet = ProxyDaemonConfig{
		Bin: stringDefault(os.Getenv("ZERONET_BIN"), "zeronet"), Port: envInt("ZERONET_PORT", 43110),
		Wait: envDuration("ZERONET_WAIT", 60*time.Second), Retry: envInt("ZERONET_RETRY", 3),
	}
	c.Freenet = ProxyDaemonConfig{
		Bin: stringDefault(os.Getenv("FREENET_BIN"), "freenet"), Port: envInt("FREENET_PORT", 8888),
		Wait: envDuration("FREENET_WAIT", 60*time.Second), Retry: envInt("FREENET_RETRY", 3),
	}

	if c.Reboot {
		glog.Infof("cmn: DARC_REBOOT=true, queues will be dropped on startup")
	}
	return c, nil
}

func stringDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// InfDuration reports whether d denotes a disabled timeout ("inf"),
// recorded internally as zero.
func InfDuration(d time.Duration) bool { return d == 0 }

// Deadline returns a context deadline duration, treating the inf sentinel
// as "no deadline" via a very large duration rather than a special case at
// every call site.
func Deadline(d time.Duration) time.Duration {
	if InfDuration(d) {
		return time.Duration(math.MaxInt64)
	}
	return d
}

///////////////////////
// global config owner //
///////////////////////

// GCO is the global config owner: one process-wide slot, swapped
// atomically, read by every package without threading a *Config through
// every call.
var gco = &globalConfigOwner{}

type globalConfigOwner struct {
	mtx sync.Mutex
	c   *Config
}

func (g *globalConfigOwner) Put(c *Config) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.c = c
}

func (g *globalConfigOwner) Get() *Config {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.c
}

func GCOPut(c *Config) { gco.Put(c) }
func GCOGet() *Config   { return gco.Get() }
