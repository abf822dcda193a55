package sched

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/golang/glog"
)

// shardEnvVar and countEnvVar carry a child's shard assignment set by
// RunMultiProcess; ShardFromEnv reads them, and their absence marks an
// unsharded process.
const (
	shardEnvVar = "DARC_SHARD"
	countEnvVar = "DARC_SHARD_COUNT"
)

// ShardFromEnv reports whether this process was re-exec'd as a sharded
// child, and if so its (shard, count) pair.
func ShardFromEnv() (shard, count int, ok bool) {
	s, sOK := os.LookupEnv(shardEnvVar)
	n, nOK := os.LookupEnv(countEnvVar)
	if !sOK || !nOK {
		return 0, 0, false
	}
	shard, err1 := strconv.Atoi(s)
	count, err2 := strconv.Atoi(n)
	if err1 != nil || err2 != nil || count < 1 || shard < 0 || shard >= count {
		glog.Warningf("sched: malformed shard env %s=%q %s=%q, running unsharded", shardEnvVar, s, countEnvVar, n)
		return 0, 0, false
	}
	return shard, count, true
}

// RunMultiProcess re-execs the current binary into cpu sharded children,
// each inheriting stdio and the parent's environment plus its shard
// assignment, and blocks until all of them exit. A child crash is logged
// and the shard is left dead for this generation — darc relies on the
// restarted parent process (systemd, docker --restart, etc.) rather than
// an in-process supervisor for that case, matching how the rest of darc
// leaves process-level restart to its host environment.
func RunMultiProcess(cpu int) error {
	if cpu < 1 {
		cpu = 1
	}
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("sched: resolving self executable: %w", err)
	}

	type result struct {
		shard int
		err   error
	}
	resCh := make(chan result, cpu)
	for shard := 0; shard < cpu; shard++ {
		go func(shard int) {
			cmd := exec.Command(self, os.Args[1:]...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			cmd.Stdin = os.Stdin
			cmd.Env = append(os.Environ(),
				fmt.Sprintf("%s=%d", shardEnvVar, shard),
				fmt.Sprintf("%s=%d", countEnvVar, cpu),
			)
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
			glog.Infof("sched: launching shard %d/%d", shard, cpu)
			resCh <- result{shard: shard, err: cmd.Run()}
		}(shard)
	}

	var first error
	for i := 0; i < cpu; i++ {
		r := <-resCh
		if r.err != nil {
			glog.Errorf("sched: shard %d exited: %v", r.shard, r.err)
			if first == nil {
				first = r.err
			}
		}
	}
	return first
}
