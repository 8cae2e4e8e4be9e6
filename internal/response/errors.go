package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrStaffAccessOnly   ErrCode = "STAFF_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Authoring ─────────────────────────────────────────────────────
	ErrCategoryConstraint    ErrCode = "CATEGORY_CONSTRAINT"
	ErrInvalidCategory       ErrCode = "INVALID_CATEGORY"
	ErrInvalidQuestion       ErrCode = "INVALID_QUESTION"
	ErrInvalidExamRule       ErrCode = "INVALID_EXAM_RULE"
	ErrInsufficientQuestions ErrCode = "INSUFFICIENT_QUESTIONS"
	ErrInvalidApplication    ErrCode = "INVALID_APPLICATION"

	// ─── Attempts ──────────────────────────────────────────────────────
	ErrApplicationNotStarted ErrCode = "APPLICATION_NOT_STARTED"
	ErrApplicationEnded      ErrCode = "APPLICATION_ENDED"
	ErrNoAttemptsLeft        ErrCode = "NO_ATTEMPTS_LEFT"
	ErrRunningAttempt        ErrCode = "RUNNING_ATTEMPT"
	ErrAlreadySubmitted      ErrCode = "ALREADY_SUBMITTED"
	ErrExpiredAttempt        ErrCode = "EXPIRED_ATTEMPT"
	ErrAttemptNotActive      ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrInvalidAnswer         ErrCode = "INVALID_ANSWER"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token de autenticação obrigatório."
	case ErrTokenInvalid:
		return "Token de autenticação inválido ou expirado."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Você não tem permissão para acessar este recurso."
	case ErrStudentAccessOnly:
		return "Este recurso é restrito a alunos."
	case ErrStaffAccessOnly:
		return "Este recurso é restrito à equipe da instituição."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Falha na validação. Verifique os dados enviados."
	case ErrInvalidID:
		return "Formato de ID inválido."
	case ErrInvalidPayload:
		return "Corpo da requisição inválido."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Recurso não encontrado."

	// ─── Authoring ─────────────────────────────────────────────────────
	case ErrCategoryConstraint:
		return "A categoria pai permite apenas uma subcategoria por questão."
	case ErrInvalidCategory:
		return "Categoria inválida."
	case ErrInvalidQuestion:
		return "Questão inválida."
	case ErrInvalidExamRule:
		return "Regra de prova inválida."
	case ErrInsufficientQuestions:
		return "Não há questões suficientes para atender a uma regra da prova."
	case ErrInvalidApplication:
		return "Aplicação inválida."

	// ─── Attempts ──────────────────────────────────────────────────────
	case ErrApplicationNotStarted:
		return "A aplicação ainda não começou."
	case ErrApplicationEnded:
		return "A aplicação já foi encerrada."
	case ErrNoAttemptsLeft:
		return "Você não possui mais tentativas nesta aplicação."
	case ErrRunningAttempt:
		return "Já existe uma tentativa em andamento."
	case ErrAlreadySubmitted:
		return "Esta tentativa já foi enviada."
	case ErrExpiredAttempt:
		return "O tempo desta tentativa esgotou."
	case ErrAttemptNotActive:
		return "Esta tentativa não está mais ativa."
	case ErrInvalidAnswer:
		return "Resposta inválida para esta tentativa."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Muitas requisições. Tente novamente mais tarde."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Erro interno do servidor."
	default:
		return "Ocorreu um erro inesperado."
	}
}
