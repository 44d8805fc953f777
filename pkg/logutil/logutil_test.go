// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	old := ReplaceGlobalLogger(zap.New(core))
	defer ReplaceGlobalLogger(old)

	Info("optimize done", zap.Int("groups", 3))
	Debugf("group %d explored", 7)
	Warn("rule failed", zap.String("rule", "JoinCommutativity"))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, "optimize done", entries[0].Message)
	require.Equal(t, int64(3), entries[0].ContextMap()["groups"])
	require.Equal(t, "group 7 explored", entries[1].Message)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
}

func TestSetupMOLoggerToFile(t *testing.T) {
	old := GetGlobalLogger()
	defer ReplaceGlobalLogger(old)

	name := filepath.Join(t.TempDir(), "search.log")
	SetupMOLogger(&LogConfig{Level: "debug", Format: "json", Filename: name, MaxSize: 1})
	Info("to file", zap.String("k", "v"))
	require.NoError(t, GetGlobalLogger().Sync())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"to file"`)
}

func TestInitMOLoggerBadLevel(t *testing.T) {
	_, err := initMOLogger(&LogConfig{Level: "loud"})
	require.Error(t, err)
}
