package geometry

// LookAtPoseRequest is the body of a look_at_pose call. All three fields
// should be expressed in the same frame.
type LookAtPoseRequest struct {
	CurrentPose Pose    `json:"current_pose" cbor:"current_pose"`
	TargetPose  Pose    `json:"target_pose" cbor:"target_pose"`
	UpVector    Vector3 `json:"up_vector" cbor:"up_vector"`
}

// LookAtPoseResponse carries the new camera pose.
type LookAtPoseResponse struct {
	NewCamPose Pose `json:"new_cam_pose" cbor:"new_cam_pose"`
}
