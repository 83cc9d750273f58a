// Package policy owns the trajectory planner: context encoding, backbone
// input preparation, the action head, action decoding and the training
// losses.
//
// Responsibilities: turn a ragged batch of labelled point clouds and
// instruction embeddings into per-step end-effector actions (position,
// quaternion, openness, stop) and score them against ground truth.
// Key types: Config, Batch, ActionHead, HeadOutput, Prediction, Losses,
// TrajectoryModel.
//
// Dependency rule: policy may depend on internal/ragged, internal/nn,
// internal/rotation, internal/discpos, internal/pointcloud and
// internal/monitoring. It never touches files or databases; configuration
// files are read by internal/config and runs are recorded by
// internal/runstore.
package policy
