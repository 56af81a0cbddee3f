package profile

import (
	"OpenAgent-Chain/internal/pipeline"
)

// PipelineName 是参考流水线的注册名称。
const PipelineName = "user_profile"

// fetchInstruction 指导抓取阶段产出符合档案 Schema 的 JSON。
const fetchInstruction = `You are a Data Fetcher stage. Given a user ID or name,
return the user's profile information as a structured JSON object with the
fields: user_id, name, email, role, department, skills, projects, status,
joined_date, last_login. If the user cannot be found, return a profile with
user_id "UNKNOWN" and sensible default values. Return ONLY the JSON object.`

// presentInstruction 指导展示阶段把会话状态中的档案渲染成友好文本。
const presentInstruction = `You are a Profile Presenter stage. The session state
contains the fetched profile under the key "fetched_profile". Present it in a
friendly, well-formatted way with clear sections, bullet points for skills and
projects, and offer to answer follow-up questions.`

// NewPipeline 构建经典的两阶段档案流水线：
// fetch 产出结构化档案写入状态，present 读取状态生成最终回复。
func NewPipeline() *pipeline.Pipeline {
	return pipeline.MustNew(PipelineName,
		pipeline.Descriptor{
			Name:         "fetch",
			Kind:         pipeline.KindProducer,
			Instruction:  fetchInstruction,
			OutputKey:    StateKey,
			OutputSchema: Schema(),
		},
		pipeline.Descriptor{
			Name:              "present",
			Kind:              pipeline.KindPresenter,
			Instruction:       presentInstruction,
			RequiredStateKeys: []string{StateKey},
		},
	)
}
