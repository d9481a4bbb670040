package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RewriteFields 提供单次响应改写的日志字段。
func RewriteFields(requestID, method, path, outcome, state string) logrus.Fields {
	fields := logrus.Fields{
		"action":  "sendfile_rewrite",
		"method":  method,
		"path":    path,
		"outcome": outcome,
		"state":   state,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// SweepFields 提供链接目录回收相关的日志字段，secret 为空时省略。
func SweepFields(linkDir, secret string) logrus.Fields {
	fields := logrus.Fields{
		"action":   "link_gc",
		"link_dir": linkDir,
	}
	if secret != "" {
		fields["secret"] = secret
	}
	return fields
}
