// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Command htpscan replays a captured client->server/server->client byte
// stream pair through the connection parser and prints each firing of the
// Log, line, headers, body-data, file-data and complete hooks as a JSON
// line, for inspecting parsing decisions offline. The transaction-start,
// URI-normalize, trailer and header/trailer-data hooks are not registered.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/intuitivelabs/htpscan"
	"github.com/intuitivelabs/htpscan/config"
	"github.com/intuitivelabs/htpscan/internal/logx"
)

type replayConfig struct {
	ReqFile   string
	ResFile   string
	ChunkSize int
	LogLevel  string
}

var rc replayConfig

type event struct {
	Hook  string          `json:"hook"`
	Tx    int             `json:"tx,omitempty"`
	Bytes int             `json:"bytes,omitempty"`
	Last  bool            `json:"last,omitempty"`
	Entry *htpscan.LogEntry `json:"log,omitempty"`
}

func emit(e event) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Println(string(b))
}

func txIndex(conn *htpscan.Connection, tx *htpscan.Transaction) int {
	for i, t := range conn.Txs {
		if t == tx {
			return i
		}
	}
	return -1
}

func buildHooks(conn *htpscan.Connection, logger logx.Logger) htpscan.Hooks {
	return htpscan.Hooks{
		Log: func(e htpscan.LogEntry) {
			logger.Hook(e)
			ec := e
			emit(event{Hook: "Log", Entry: &ec})
		},
		RequestLine: func(tx *htpscan.Transaction) htpscan.HookResult {
			emit(event{Hook: "RequestLine", Tx: txIndex(conn, tx)})
			return htpscan.HookOk
		},
		RequestHeaders: func(tx *htpscan.Transaction) htpscan.HookResult {
			emit(event{Hook: "RequestHeaders", Tx: txIndex(conn, tx)})
			return htpscan.HookOk
		},
		RequestBodyData: func(e htpscan.DataEvent) htpscan.HookResult {
			emit(event{Hook: "RequestBodyData", Tx: txIndex(conn, e.Tx), Bytes: len(e.Bytes), Last: e.IsLast})
			return htpscan.HookOk
		},
		RequestFileData: func(e htpscan.DataEvent) htpscan.HookResult {
			emit(event{Hook: "RequestFileData", Tx: txIndex(conn, e.Tx), Bytes: len(e.Bytes), Last: e.IsLast})
			return htpscan.HookOk
		},
		RequestComplete: func(tx *htpscan.Transaction) htpscan.HookResult {
			emit(event{Hook: "RequestComplete", Tx: txIndex(conn, tx)})
			return htpscan.HookOk
		},
		ResponseLine: func(tx *htpscan.Transaction) htpscan.HookResult {
			emit(event{Hook: "ResponseLine", Tx: txIndex(conn, tx)})
			return htpscan.HookOk
		},
		ResponseHeaders: func(tx *htpscan.Transaction) htpscan.HookResult {
			emit(event{Hook: "ResponseHeaders", Tx: txIndex(conn, tx)})
			return htpscan.HookOk
		},
		ResponseBodyData: func(e htpscan.DataEvent) htpscan.HookResult {
			emit(event{Hook: "ResponseBodyData", Tx: txIndex(conn, e.Tx), Bytes: len(e.Bytes), Last: e.IsLast})
			return htpscan.HookOk
		},
		ResponseComplete: func(tx *htpscan.Transaction) htpscan.HookResult {
			emit(event{Hook: "ResponseComplete", Tx: txIndex(conn, tx)})
			return htpscan.HookOk
		},
	}
}

func chunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = len(data)
		if size == 0 {
			return nil
		}
	}
	var out [][]byte
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[i:end])
	}
	return out
}

func run(cmd *cobra.Command, args []string) error {
	reqData, err := os.ReadFile(rc.ReqFile)
	if err != nil {
		return fmt.Errorf("reading request file: %w", err)
	}
	resData, err := os.ReadFile(rc.ResFile)
	if err != nil {
		return fmt.Errorf("reading response file: %w", err)
	}

	logger := logx.New(logx.Options{Stdout: true, Level: rc.LogLevel})

	var conn htpscan.Connection
	conn.Open(net.IPv4(127, 0, 0, 1), net.IPv4(127, 0, 0, 1), 51000, 80, 80, config.Default())
	conn.Hooks = buildHooks(&conn, logger)

	reqChunks := chunks(reqData, rc.ChunkSize)
	resChunks := chunks(resData, rc.ChunkSize)

	for i := 0; i < len(reqChunks) || i < len(resChunks); i++ {
		if i < len(reqChunks) {
			res := conn.ReqData(reqChunks[i])
			if res == htpscan.ResError {
				fmt.Fprintln(os.Stderr, "request direction aborted with an error")
				break
			}
		}
		if i < len(resChunks) {
			res := conn.ResData(resChunks[i])
			if res == htpscan.ResError {
				fmt.Fprintln(os.Stderr, "response direction aborted with an error")
				break
			}
		}
	}
	conn.Close()
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "htpscan",
	Short: "Replay a captured HTTP byte stream through the connection parser",
	Example: "  htpscan --req client.bin --res server.bin --chunk-size 64",
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&rc.ReqFile, "req", "", "Path to the raw client->server byte dump (required)")
	rootCmd.Flags().StringVar(&rc.ResFile, "res", "", "Path to the raw server->client byte dump (required)")
	rootCmd.Flags().IntVar(&rc.ChunkSize, "chunk-size", 256, "Bytes fed to the parser per step (0 feeds the whole file at once)")
	rootCmd.Flags().StringVar(&rc.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	_ = rootCmd.MarkFlagRequired("req")
	_ = rootCmd.MarkFlagRequired("res")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
