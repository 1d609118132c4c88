// Package elo 實作 ELO 棋力評分計算
package elo

import "math"

// KFactor 每局最大變動幅度
const KFactor = 32

// 對局比分
const (
	ScoreWin  = 1.0
	ScoreDraw = 0.5
	ScoreLoss = 0.0
)

// Expected A 對 B 的期望得分（0~1）
func Expected(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(ratingB-ratingA)/400.0))
}

// Update 回傳 A 以 score 比分對上 B 後的新評分
func Update(ratingA, ratingB int, score float64) int {
	return ratingA + int(math.Round(KFactor*(score-Expected(ratingA, ratingB))))
}

// Apply 回傳一局結束後雙方的新評分
//
// scoreA 為 A 方比分（ScoreWin / ScoreDraw / ScoreLoss），
// B 方比分為其補數。
func Apply(ratingA, ratingB int, scoreA float64) (newA, newB int) {
	return Update(ratingA, ratingB, scoreA), Update(ratingB, ratingA, 1-scoreA)
}
