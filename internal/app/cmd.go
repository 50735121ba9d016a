package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はローカルのメンバーAPIサーバーとして起動することを示す。
	CommandServe Command = "serve"
	// CommandStatus はセッションとプロフィールを1回同期し、状態をJSONで出力して終了することを示す。
	CommandStatus Command = "status"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandStatus:
		return CommandStatus
	case CommandMigrate:
		return CommandMigrate
	case CommandHealthcheck:
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
