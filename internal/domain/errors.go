package domain

import "errors"

var (
	// ErrIdentityUnreachable - сессия identity мертва или истекла.
	// Исключает identity только из текущей попытки доставки.
	ErrIdentityUnreachable = errors.New("identity unreachable")
	// ErrTargetNotFound - identity не смогла найти пользователя.
	ErrTargetNotFound = errors.New("target not found")
	// ErrChatUnreachable - identity не может загрузить чат. Ошибка уровня чата,
	// другие identity не перебираются.
	ErrChatUnreachable = errors.New("chat unreachable")
	// ErrCandidatesExhausted - все кандидаты перебраны без успеха.
	ErrCandidatesExhausted = errors.New("candidates exhausted")
	// ErrMediaFetch - не удалось получить медиа из хостинга контента.
	ErrMediaFetch = errors.New("media fetch failed")
	// ErrSend - не удалось отправить сообщение.
	ErrSend = errors.New("send failed")
	// ErrEmptyTemplate - в шаблоне нет ни текста, ни медиа.
	ErrEmptyTemplate = errors.New("template has no content")
	// ErrTemplateNotFound - запись очереди ссылается на удаленный шаблон.
	ErrTemplateNotFound = errors.New("template not found")
)
