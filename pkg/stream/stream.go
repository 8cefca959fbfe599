// Package stream 在字节流上传输一串 serde 消息。
//
// 流以前导块开头：4 字节魔数 "SRDE"、1 字节长度、语义化版本号字符串。
// 之后每条消息占一帧，帧可以整体压缩。兼容模式下每个流方向各持有一个
// MetaContext，同一个 ClassDef 在整条流上只传输一次。
package stream

import (
	"io"

	"github.com/blang/semver/v4"
	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

var magic = [4]byte{'S', 'R', 'D', 'E'}

const maxVersionLen = 64

func parseVersion(v string) (semver.Version, error) {
	version, err := semver.Parse(v)
	if err != nil {
		return semver.Version{}, merr.WrapErrParameterInvalidMsg("invalid stream protocol version %q: %v", v, err)
	}
	return version, nil
}

// compatible 判断两端协议版本能否互通：主版本必须相同，0.x 版本还要求次版本相同。
func compatible(local, remote semver.Version) bool {
	if local.Major != remote.Major {
		return false
	}
	if local.Major == 0 {
		return local.Minor == remote.Minor
	}
	return true
}

func writePreamble(w io.Writer, version semver.Version) (int, error) {
	v := version.String()
	out := make([]byte, 0, len(magic)+1+len(v))
	out = append(out, magic[:]...)
	out = append(out, byte(len(v)))
	out = append(out, v...)
	if _, err := w.Write(out); err != nil {
		return 0, errors.Wrap(err, "stream: write preamble failed")
	}
	return len(out), nil
}

func readPreamble(r io.Reader, local semver.Version) (semver.Version, int, error) {
	var head [len(magic) + 1]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return semver.Version{}, 0, merr.WrapErrMalformedInput("truncated stream preamble", err)
	}
	if [4]byte(head[:4]) != magic {
		return semver.Version{}, 0, merr.WrapErrMalformedInput("bad stream magic")
	}
	n := int(head[4])
	if n == 0 || n > maxVersionLen {
		return semver.Version{}, 0, merr.WrapErrMalformedInput("bad stream version length")
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return semver.Version{}, 0, merr.WrapErrMalformedInput("truncated stream version", err)
	}
	remote, err := semver.Parse(string(raw))
	if err != nil {
		return semver.Version{}, 0, merr.WrapErrStreamVersion(local.String(), string(raw))
	}
	if !compatible(local, remote) {
		return semver.Version{}, 0, merr.WrapErrStreamVersion(local.String(), remote.String())
	}
	return remote, len(head) + n, nil
}
