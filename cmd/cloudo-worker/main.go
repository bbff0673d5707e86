// Copyright 2025 Cloudo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"

	"github.com/cloudo-ops/cloudo/internal/worker/bootstrap"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "conf", "conf.d/worker.toml", "config file path, e.g. -conf ./conf.d/worker.toml")
}

func main() {
	flag.Parse()

	app, cleanup, err := bootstrap.NewApp(configFile)
	if err != nil {
		panic(err)
	}

	bootstrap.Run(app, cleanup)
}
