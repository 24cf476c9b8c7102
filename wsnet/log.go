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

package wsnet

import "github.com/pion/logging"

var loggerFactory logging.LoggerFactory = logging.NewDefaultLoggerFactory()

// SetLoggerFactory overrides the leveled logger factory used by every
// Session created afterward.
func SetLoggerFactory(f logging.LoggerFactory) {
	if f != nil {
		loggerFactory = f
	}
}

func newLogger(scope string) logging.LeveledLogger {
	return loggerFactory.NewLogger(scope)
}
