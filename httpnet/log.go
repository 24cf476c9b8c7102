// Copyright 2020 The NATS Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpnet

import "github.com/pion/logging"

// loggerFactory is package-level so tests and the façade can both reach
// it without threading a factory through every constructor. Swap it with
// SetLoggerFactory before starting a Listener.
var loggerFactory logging.LoggerFactory = logging.NewDefaultLoggerFactory()

// SetLoggerFactory overrides the leveled logger factory used by every
// Listener created afterwards. The zero value is never valid; passing nil
// is a no-op.
func SetLoggerFactory(f logging.LoggerFactory) {
	if f != nil {
		loggerFactory = f
	}
}

func newLogger(scope string) logging.LeveledLogger {
	return loggerFactory.NewLogger(scope)
}
