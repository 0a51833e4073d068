package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Session lifecycle (debug)
		"Source %d: decoder initialized":          "ソース %d: デコーダを初期化しました",
		"Source %d: %d units produced no picture": "ソース %d: %d ユニットを投入しましたがピクチャはまだ出力されていません",
		"Source %d: drained %d frames":            "ソース %d: %d フレームを排出しました",

		// Multiplexer (info)
		"Source %d: session created (%d/%d)":                         "ソース %d: セッションを作成しました (%d/%d)",
		"Source %d closed, %d frames flushed":                        "ソース %d を閉じました。%d フレームを排出しました",
		"Source %d evicted":                                          "ソース %d を破棄しました",
		"Source %d evicted (least recently used), %d frames flushed": "ソース %d を破棄しました (最も長く未使用)。%d フレームを排出しました",
		"Multiplexer shut down, %d sources drained":                  "マルチプレクサを終了しました。%d ソースを排出しました",
		"Queue full, dropped %d oldest frames":                       "キューが満杯のため、古いフレームを %d 件破棄しました",

		// ffmpeg decoder (debug)
		"Starting ffmpeg decoder for %dx%d stream": "%dx%d ストリーム用の ffmpeg デコーダを起動します",
		"ffmpeg flushed %d frames":                 "ffmpeg から %d フレームを排出しました",

		// Warnings
		"Source %d: corrupt unit, decoder reset: %v": "ソース %d: 破損したユニットのためデコーダをリセットしました: %v",
		"Source %d: session failed: %v":              "ソース %d: セッションが失敗しました: %v",
		"Source %d: drain on eviction failed: %v":    "ソース %d: 破棄時の排出に失敗しました: %v",
		"Source %d: no output after %d units":        "ソース %d: %d ユニット投入後も出力がありません",
	})
}
