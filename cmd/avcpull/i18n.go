// Package main provides localization for the avcpull CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Root command
		"Decode H.264 streams of many sources through a shared push/pull decoder.": "複数ソースの H.264 ストリームを共有のプッシュ/プル型デコーダでデコードします。",

		// Version command
		"avcpull version %s": "avcpull バージョン %s",

		// Runtime messages
		"Source %d: %s (%dx%d, %d units)":         "ソース %d: %s (%dx%d, %d ユニット)",
		"Source %d: unit %d skipped":              "ソース %d: ユニット %d をスキップしました",
		"Source %d: giving up at unit %d: %v":     "ソース %d: ユニット %d で処理を中止しました: %v",
		"Source %d: close failed: %v":             "ソース %d: クローズに失敗しました: %v",
		"Source %d: %d frames":                    "ソース %d: %d フレーム",
		"Decoded %d frames from %d sources in %s": "%d フレームを %d ソースから %s でデコードしました",
		"%d frames were dropped by backpressure":  "バックプレッシャーにより %d フレームが破棄されました",
		"Frames saved to %s":                      "フレームを %s に保存しました",
		"Interrupted, shutting down...":           "中断されました。シャットダウン中...",

		// Summary output
		"Summary saved to %s":         "サマリーを %s に保存しました",
		"Failed to write summary: %s": "サマリーの書き込みに失敗しました: %s",

		// Summary content
		"Decode Summary":  "デコードサマリー",
		"Generated":       "生成日時",
		"Results":         "実行結果",
		"Settings":        "設定",
		"Item":            "項目",
		"Value":           "値",
		"Sources":         "ソース数",
		"Failed Sources":  "失敗したソース",
		"Frames":          "フレーム数",
		"Dropped Frames":  "破棄されたフレーム",
		"Elapsed":         "所要時間",
		"Source":          "ソース",
		"File":            "ファイル",
		"Size":            "サイズ",
		"Units":           "ユニット数",
		"Encoded":         "符号化サイズ",
		"Skipped":         "スキップ",
		"Status":          "状態",
		"OK":              "正常",
		"Failed":          "失敗",
		"Max Sources":     "最大ソース数",
		"Queue Capacity":  "キュー容量",
		"Unbounded":       "無制限",
		"Backpressure":    "バックプレッシャー",
		"Pull Mode":       "取得モード",
		"Eviction":        "破棄ポリシー",
		"Timestamp Order": "タイムスタンプ順序",
		"Decoder Threads": "デコーダスレッド数",
		"Auto":            "自動",
		"Generated by":    "生成:",
	})
}
