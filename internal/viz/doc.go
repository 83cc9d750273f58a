// Package viz renders planner output for inspection: PNG scene plots via
// gonum/plot and HTML loss and heatmap charts via go-echarts.
//
// Responsibilities: top-down scene rendering (points, predicted and
// ground-truth trajectories), per-step heatmap weights, loss history
// charts.
//
// Dependency rule: viz reads internal/policy results and never mutates
// them.
package viz
